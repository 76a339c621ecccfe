// Package scheduler triggers named jobs on fixed intervals using
// robfig/cron "@every" schedules.
//
// A job never overlaps with itself: a trigger that fires while the previous
// run is still going is skipped. Each run gets a context bounded by the job
// timeout and cancelled on Stop.
package scheduler
