// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package scheduler

import "time"

// NextDailyDelay returns the wait until the next local midnight, the
// aligned start for daily tasks.
func NextDailyDelay(now time.Time) time.Duration {
	now = now.Local()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.Local)
	return next.Sub(now)
}

// NextMonthlyDelay returns the wait until the first of the next local
// month at midnight.
func NextMonthlyDelay(now time.Time) time.Duration {
	now = now.Local()
	next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.Local)
	return next.Sub(now)
}
