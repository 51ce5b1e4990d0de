// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package simscope

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
)

var _ seqacquireinterfaces.Wall_clock = &Stepping_clock{}
var _ seqacquireinterfaces.Abort_poller = &Countdown_abort{}

/* Stepping_clock moves forward by step every time somebody looks at it, so a poll loop that is
   waiting for a timeout gets there in a known number of looks without anybody sleeping. */
type Stepping_clock struct {
	m_lock sync.Mutex
	m_now  time.Time
	m_step time.Duration
}

func New_stepping_clock(step time.Duration) *Stepping_clock {
	var c Stepping_clock
	c.m_now = time.Date(1991, time.March, 4, 9, 0, 0, 0, time.UTC)
	c.m_step = step
	return &c
}

func (this *Stepping_clock) Now() time.Time {
	this.m_lock.Lock()
	defer this.m_lock.Unlock()
	var now = this.m_now
	this.m_now = this.m_now.Add(this.m_step)
	return now
}

/* Countdown_abort says abort after it has been asked calls times, never if calls is negative. */
type Countdown_abort struct {
	m_left atomic.Int64
}

func New_countdown_abort(calls int64) *Countdown_abort {
	var a Countdown_abort
	a.m_left.Store(calls)
	return &a
}

func (this *Countdown_abort) Abort_requested() bool {
	var left = this.m_left.Load()
	if left < 0 {
		return false
	}
	if left == 0 {
		return true
	}
	this.m_left.Add(-1)
	return false
}
