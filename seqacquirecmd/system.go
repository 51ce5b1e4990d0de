// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package main

import (
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var _ seqacquireinterfaces.Wall_clock = system_clock{}
var _ seqacquireinterfaces.Abort_poller = &Signal_abort{}

type system_clock struct{}

func (this system_clock) Now() time.Time {
	return time.Now()
}

/* Signal_abort turns an interrupt or terminate into an abort request that the poll loops
   pick up the next time they look. */
type Signal_abort struct {
	m_log       *tools.Nixomosetools_logger
	m_requested atomic.Bool
	m_signals   chan os.Signal
	m_done      chan struct{}
}

func New_signal_abort(log *tools.Nixomosetools_logger) *Signal_abort {
	var s Signal_abort
	s.m_log = log
	s.m_signals = make(chan os.Signal, 1)
	s.m_done = make(chan struct{})
	signal.Notify(s.m_signals, unix.SIGINT, unix.SIGTERM)
	go s.watch()
	return &s
}

func (this *Signal_abort) watch() {
	for {
		select {
		case sig := <-this.m_signals:
			this.m_log.Info("got signal ", sig, ", stopping the acquisition")
			this.m_requested.Store(true)
		case <-this.m_done:
			return
		}
	}
}

func (this *Signal_abort) Abort_requested() bool {
	return this.m_requested.Load()
}

func (this *Signal_abort) Stop() {
	signal.Stop(this.m_signals)
	close(this.m_done)
}

/* New_reporter makes the console logger, -q only lets errors through and -v lets everything. */
func New_reporter(config Acquire_config) *logrus.Logger {
	var report = logrus.New()
	report.SetOutput(os.Stdout)
	report.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableLevelTruncation: true})
	switch {
	case config.Quiet:
		report.SetLevel(logrus.ErrorLevel)
	case config.Verbose:
		report.SetLevel(logrus.DebugLevel)
	default:
		report.SetLevel(logrus.InfoLevel)
	}
	return report
}

/* Library_log_level is the level the library logger runs at, it follows the same switches as the report. */
func Library_log_level(config Acquire_config) int {
	switch {
	case config.Quiet:
		return tools.ERROR
	case config.Verbose:
		return tools.DEBUG
	default:
		return tools.INFO
	}
}
