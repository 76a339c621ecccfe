// Package notifier delivers reminder bodies through a chat adapter.
//
// Service implements reminder.DeliveryChannel: it rate limits outbound
// sends with a token bucket, bounds each attempt with a timeout, retries a
// small number of times with backoff and reports the outcome as a boolean.
// It never lets an adapter error or panic escape.
//
// A short in-memory history of recent deliveries is kept for /health.
package notifier
