// Package completion is a minimal client for OpenAI-compatible chat
// completion endpoints. It sends one user message per call and returns the
// first choice's content.
package completion
