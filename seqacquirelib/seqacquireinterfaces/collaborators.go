// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquireinterfaces

import "time"

// coarse wall clock, timeouts are only ever checked from inside poll loops.
type Wall_clock interface {
	Now() time.Time
}

// non blocking check for a user requested abort.
type Abort_poller interface {
	Abort_requested() bool
}
