// Package scheduler triggers named jobs on cron or interval schedules.
//
// Each schedule runs at most one job at a time. A trigger that fires while the
// previous run is still in flight is skipped and reported, never queued. The
// same guard applies to RunNow, so a manual or startup run cannot overlap a
// scheduled one either.
package scheduler
