package base

import "time"

// WallClockNow is the default clock source used throughout the core
// (timer alignment, flood-control credit). Tests may shadow
// eventloop.Now with a deterministic stand-in; production code always
// reaches for this.
func WallClockNow() time.Time { return time.Now() }
