// Package schedule provides utilities for cron expression handling and deferred execution.
//
// Cron functions parse and validate cron expressions and compute upcoming run times.
// WaitUntil and Every block until those times arrive, so scheduled broadcasts
// stop as soon as their context is cancelled.
package schedule
