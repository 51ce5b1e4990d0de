// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* This module shuttles blocks from the scope to the sink. The scope decides how big a block is,
   we find out by asking for more than it could send and seeing what comes back. After that
   reads from the scope overlap writes to the sink through a ring of transfer buffers until the
   end packet shows up. */

package seqacquirelib

import (
	"fmt"
	"runtime"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
	"github.com/sirupsen/logrus"
)

const DEFAULT_BLOCK_SIZE uint32 = 65536
const DEFAULT_POOL_SIZE int = 10
const DEFAULT_SCOPE_ID u8 = 7
const DEFAULT_TIMEOUT time.Duration = 5 * time.Second
const DEFAULT_READ_RETRIES int = 5

type Session_config struct {
	Block_size   uint32
	Pool_size    int
	Scope_id     u8
	Timeout      time.Duration // zero turns stalled read detection off
	Read_retries int
	Memory_only  bool
	Report_setup bool
}

func Default_session_config() Session_config {
	return Session_config{
		Block_size:   DEFAULT_BLOCK_SIZE,
		Pool_size:    DEFAULT_POOL_SIZE,
		Scope_id:     DEFAULT_SCOPE_ID,
		Timeout:      DEFAULT_TIMEOUT,
		Read_retries: DEFAULT_READ_RETRIES,
	}
}

type Statistics struct {
	Total_blocks uint64
	Block_size   uint32
	Elapsed_ms   int64
	Rate         float64 // bytes per second, not counting the first block
	Retries      int
}

func (this Statistics) Report(report *logrus.Logger) {
	report.Info(fmt.Sprintf("total of %d blocks = %.0f bytes transferred", this.Total_blocks,
		float64(this.Total_blocks)*float64(this.Block_size)))
	report.Info(fmt.Sprintf("elapsed time = %d msec", this.Elapsed_ms))
	if this.Elapsed_ms != 0 {
		report.Info(fmt.Sprintf("transfer rate = %.0f bytes/sec", this.Rate))
	}
}

type Acquisition_handler struct {
	m_log    *tools.Nixomosetools_logger
	m_report *logrus.Logger
	m_mem    *Host_memory
	m_scsi   *Scsi
	m_sink   seqacquireinterfaces.Sink_mechanism
	m_clock  seqacquireinterfaces.Wall_clock
	m_abort  seqacquireinterfaces.Abort_poller
	m_config Session_config

	m_pool      *Transfer_pool
	m_tracker   *Packet_tracker
	m_sink_open bool

	m_pending          *Command
	m_pending_deadline time.Time
	m_pending_retries  int

	m_total_blocks  uint64
	m_blocks_output uint64
	m_retries       int
	m_start         time.Time
	m_end           time.Time
}

var _ seqacquireinterfaces.Session_device = &Acquisition_handler{}
var _ seqacquireinterfaces.Session_device = (*Acquisition_handler)(nil)

func New_acquisition_handler(log *tools.Nixomosetools_logger, report *logrus.Logger, mem *Host_memory, scsi *Scsi,
	sink seqacquireinterfaces.Sink_mechanism, clock seqacquireinterfaces.Wall_clock,
	abort seqacquireinterfaces.Abort_poller, config Session_config) *Acquisition_handler {
	var a Acquisition_handler
	a.m_log = log
	a.m_report = report
	a.m_mem = mem
	a.m_scsi = scsi
	a.m_sink = sink
	a.m_clock = clock
	a.m_abort = abort
	a.m_config = config
	a.m_tracker = New_packet_tracker(log)
	return &a
}

func (this *Acquisition_handler) Get_block_size_in_bytes() uint32 {
	if this.m_pool == nil {
		return this.m_config.Block_size
	}
	return this.m_pool.Block_size()
}

func (this *Acquisition_handler) Get_pool_size() uint32 {
	if this.m_pool == nil {
		return uint32(this.m_config.Pool_size)
	}
	return uint32(this.m_pool.Count())
}

func (this *Acquisition_handler) Get_pool() *Transfer_pool {
	return this.m_pool
}

/* Run does the whole session. Whatever happens, the sink is closed and the adapter is shut down
   before this returns, so nothing can land in memory we're done with. */
func (this *Acquisition_handler) Run() (tools.Ret, Statistics) {
	var ret = this.run()
	this.m_scsi.Shutdown()
	this.abandon_pending()

	if this.m_sink_open {
		this.m_sink_open = false
		var cret = this.m_sink.Close()
		if cret != nil && ret == nil {
			ret = tools.ErrorWithCode(this.m_log, E_IO, "unable to close output: ", cret.Get_errmsg())
		}
	}
	if this.m_pool != nil {
		this.m_pool.Release()
	}
	return ret, this.statistics()
}

func (this *Acquisition_handler) run() tools.Ret {
	var ret, _ = this.m_scsi.Setup()
	if ret != nil {
		return ret
	}
	if this.m_config.Report_setup {
		this.report_setup()
	}

	var ready bool
	ret, ready = this.m_scsi.Test_target_ready(this.m_config.Scope_id, TARGET_LUN)
	if ret != nil {
		return ret
	}
	if ready == false {
		return tools.ErrorWithCode(this.m_log, E_SELECTION_TIMEOUT, "SCSI ID ", this.m_config.Scope_id, " not ready")
	}

	if this.m_config.Memory_only == false {
		if ret = this.m_sink.Open(); ret != nil {
			return tools.ErrorWithCode(this.m_log, E_IO, "unable to open output: ", ret.Get_errmsg())
		}
		this.m_sink_open = true
	}

	ret, this.m_pool = New_transfer_pool(this.m_log, this.m_mem, this.m_config.Pool_size, this.m_config.Block_size)
	if ret != nil {
		return ret
	}

	if ret = this.bootstrap(); ret != nil {
		return ret
	}

	if this.m_config.Memory_only {
		ret = this.transfer_to_memory()
	} else {
		ret = this.transfer_to_sink()
	}
	this.m_end = this.m_clock.Now()
	return ret
}

func (this *Acquisition_handler) report_setup() {
	var adapter = this.m_scsi.Get_adapter()
	var ret, inq = adapter.Inquire()
	if ret == nil {
		this.m_report.Info(inq.String())
	}
	this.m_report.Info(adapter.Get_config().String())
	var setup Adapter_setup
	if ret, setup = adapter.Return_setup_data(); ret == nil {
		this.m_report.Info(setup.String())
	}
	var idb Idb
	if ret, idb = this.m_scsi.Inquire_target(this.m_config.Scope_id, TARGET_LUN); ret == nil {
		this.m_report.Info("scope ", Idb_string(idb))
	}
}

func (this *Acquisition_handler) pause() tools.Ret {
	if this.m_abort != nil && this.m_abort.Abort_requested() {
		return tools.ErrorWithCode(this.m_log, E_ABORTED, "aborted by user")
	}
	runtime.Gosched()
	return nil
}

/*****************************************************************************************************/
/*                                       one read at a time                                          */
/*****************************************************************************************************/

func (this *Acquisition_handler) start_read(b *Transfer_buffer) tools.Ret {
	var ret, cmd = this.m_scsi.Submit_read(this.m_config.Scope_id, b.Addr, this.m_pool.Block_size())
	if ret != nil {
		return ret
	}
	this.m_pending = cmd
	this.m_pending_deadline = this.m_clock.Now().Add(this.m_config.Timeout)
	this.m_pending_retries = 0
	this.m_total_blocks++
	return nil
}

func (this *Acquisition_handler) abandon_pending() {
	if this.m_pending != nil {
		this.m_pending.Release()
		this.m_pending = nil
	}
}

/* check_read looks at the outstanding read once. When timeouts are on and the read has sat
   there too long the whole adapter is set up again and the same read is put back on it. */
func (this *Acquisition_handler) check_read(enable_timeout bool) (tools.Ret, Poll_status) {
	var ps = this.m_scsi.Poll(this.m_pending)
	switch ps.Kind {
	case POLL_PENDING:
		if enable_timeout == false || this.m_config.Timeout == 0 {
			return nil, ps
		}
		var now = this.m_clock.Now()
		if now.Before(this.m_pending_deadline) {
			return nil, ps
		}
		this.m_pending_retries++
		if this.m_pending_retries > this.m_config.Read_retries {
			return tools.ErrorWithCode(this.m_log, E_ADAPTER_TIMEOUT, "scsi read timed out after ",
				this.m_config.Read_retries, " retries"), ps
		}
		this.m_retries++
		this.m_report.Warn("Try again...")
		var ret, _ = this.m_scsi.Setup()
		if ret != nil {
			return ret, ps
		}
		if ret = this.m_scsi.Resubmit(this.m_pending); ret != nil {
			return ret, ps
		}
		this.m_pending_deadline = now.Add(this.m_config.Timeout)
		return nil, ps

	case POLL_DONE, POLL_SHORT_BLOCK:
		this.abandon_pending()
		return nil, ps
	}
	this.abandon_pending()
	return ps.Error_ret(this.m_log, "SCSI error during transfer"), ps
}

func (this *Acquisition_handler) wait_read(enable_timeout bool) (tools.Ret, Poll_status) {
	for {
		var ret, ps = this.check_read(enable_timeout)
		if ret != nil || ps.Kind != POLL_PENDING {
			return ret, ps
		}
		if ret = this.pause(); ret != nil {
			return ret, ps
		}
	}
}

/* observe runs the packet number of a block just read past the tracker. */
func (this *Acquisition_handler) observe(b *Transfer_buffer, level logrus.Level) tools.Ret {
	var p = Packet_number(this.m_pool.Block(b))
	this.m_report.WithFields(logrus.Fields{"packet": fmt.Sprintf("%04x", p), "stream": Packet_stream(p),
		"block": this.m_total_blocks - 1}).Log(level, "read SCSI packet")
	var ret, _ = this.m_tracker.Observe(p)
	return ret
}

/*****************************************************************************************************/
/*                                          the session                                              */
/*****************************************************************************************************/

/* bootstrap reads the first block with no timeout, the scope may take a while to start sending. */
func (this *Acquisition_handler) bootstrap() tools.Ret {
	var ret, b = this.m_pool.Begin_fill()
	if ret != nil {
		return ret
	}
	if ret = this.start_read(b); ret != nil {
		return ret
	}
	var ps Poll_status
	if ret, ps = this.wait_read(false); ret != nil {
		return tools.ErrorWithCode(this.m_log, ret.Get_errcode(), "SCSI error occurred while reading first block: ", ret.Get_errmsg())
	}

	if ps.Actual_len != this.m_pool.Block_size() {
		this.m_report.WithFields(logrus.Fields{"requested": this.m_pool.Block_size(), "actual": ps.Actual_len}).
			Debug("block size differs from requested, reallocating transfer buffers")
		if ret = this.m_pool.Resize_keeping_first(ps.Actual_len); ret != nil {
			return ret
		}
	}
	this.m_pool.Start_after_first()
	if ret = this.observe(&this.m_pool.m_buffers[0], logrus.DebugLevel); ret != nil {
		return ret
	}

	if aware, ok := this.m_sink.(seqacquireinterfaces.Session_aware); ok && this.m_sink_open {
		if ret = aware.Process_device(this); ret != nil {
			return ret
		}
	}

	this.m_total_blocks = 1
	this.m_start = this.m_clock.Now()
	return nil
}

func (this *Acquisition_handler) transfer_to_memory() tools.Ret {
	/* nothing is written in this mode, the first block just goes back in the pool. */
	var ret tools.Ret
	if ret, _ = this.m_pool.Begin_drain(); ret == nil {
		ret = this.m_pool.End_drain()
	}
	if ret != nil {
		return ret
	}

	for this.m_tracker.Ended() == false {
		var b *Transfer_buffer
		if ret, b = this.m_pool.Begin_fill(); ret != nil {
			return ret
		}
		if ret = this.start_read(b); ret != nil {
			return ret
		}
		if ret, _ = this.wait_read(true); ret != nil {
			return ret
		}
		if ret = this.observe(b, logrus.InfoLevel); ret != nil {
			return ret
		}
		if ret = this.m_pool.Discard_fill(); ret != nil {
			return ret
		}
	}
	return nil
}

func (this *Acquisition_handler) read_completed(ps Poll_status) tools.Ret {
	if ps.Kind == POLL_SHORT_BLOCK {
		this.m_log.Debug("short block of ", ps.Actual_len, " bytes on block ", this.m_total_blocks-1)
	}
	var b = this.filling_buffer()
	var ret = this.m_pool.End_fill()
	if ret != nil {
		return ret
	}
	return this.observe(b, logrus.DebugLevel)
}

func (this *Acquisition_handler) filling_buffer() *Transfer_buffer {
	var input, _ = this.m_pool.Cursors()
	return &this.m_pool.m_buffers[input]
}

func (this *Acquisition_handler) write_one() tools.Ret {
	var ret, b = this.m_pool.Begin_drain()
	if ret != nil {
		return ret
	}
	var data = this.m_pool.Block(b)
	var p = Packet_number(data)
	var final = Is_end_packet(p)
	ret = this.m_sink.Write_block(this.m_blocks_output, data, final)
	if ret != nil {
		return tools.ErrorWithCode(this.m_log, E_IO, "unable to write block ", this.m_blocks_output, ": ", ret.Get_errmsg())
	}
	this.m_report.WithFields(logrus.Fields{"packet": fmt.Sprintf("%04x", p), "block": this.m_blocks_output}).Info("write packet")
	this.m_blocks_output++
	return this.m_pool.End_drain()
}

func (this *Acquisition_handler) transfer_to_sink() tools.Ret {
	var ret tools.Ret
	var ps Poll_status

	/* fill the pool before writing anything. */
	for this.m_pool.Has_free() && this.m_tracker.Ended() == false {
		var b *Transfer_buffer
		if ret, b = this.m_pool.Begin_fill(); ret != nil {
			return ret
		}
		if ret = this.start_read(b); ret != nil {
			return ret
		}
		if ret, ps = this.wait_read(true); ret != nil {
			return ret
		}
		if ret = this.read_completed(ps); ret != nil {
			return ret
		}
	}

	/* interleave reads and writes. */
	for this.m_tracker.Ended() == false {
		if this.m_pool.Has_full() {
			if ret = this.write_one(); ret != nil {
				return ret
			}
		}
		if this.m_pending == nil {
			if this.m_pool.Has_free() {
				var b *Transfer_buffer
				if ret, b = this.m_pool.Begin_fill(); ret != nil {
					return ret
				}
				if ret = this.start_read(b); ret != nil {
					return ret
				}
			}
			continue
		}
		if ret, ps = this.check_read(true); ret != nil {
			return ret
		}
		if ps.Kind == POLL_PENDING {
			if ret = this.pause(); ret != nil {
				return ret
			}
			continue
		}
		if ret = this.read_completed(ps); ret != nil {
			return ret
		}
	}

	/* and write what's left. */
	for this.m_pool.Has_full() {
		if ret = this.write_one(); ret != nil {
			return ret
		}
	}
	return nil
}

func (this *Acquisition_handler) statistics() Statistics {
	var s Statistics
	s.Total_blocks = this.m_total_blocks
	s.Block_size = this.Get_block_size_in_bytes()
	s.Retries = this.m_retries
	if this.m_start.IsZero() == false && this.m_end.IsZero() == false {
		s.Elapsed_ms = this.m_end.Sub(this.m_start).Milliseconds()
	}
	if s.Elapsed_ms != 0 && s.Total_blocks > 0 {
		s.Rate = float64(s.Total_blocks-1) * float64(s.Block_size) / float64(s.Elapsed_ms) * 1000.0
	}
	return s
}
