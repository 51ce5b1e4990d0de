// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Package simscope is a stand in for the host adapter and the scope on the other end of the
   bus. It answers the register handshake the way the real board does, reads ccbs out of the
   mailboxes in host memory, moves scope data into host memory and posts completions back
   through the in mailboxes and the interrupt line. */
package simscope

import (
	"sync"
	"sync/atomic"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
)

var _ seqacquireinterfaces.Register_port = &Sim_adapter{}
var _ seqacquireinterfaces.Interrupt_line = &Sim_adapter{}

/* parameter bytes each adapter command takes. commands that aren't here are invalid. */
var command_params = map[uint8]int{
	seqacquirelib.AHA_CMD_NO_OP:            0,
	seqacquirelib.AHA_CMD_MBOX_INIT:        4,
	seqacquirelib.AHA_CMD_INQUIRY:          0,
	seqacquirelib.AHA_CMD_EN_MBOX_OUT_INT:  1,
	seqacquirelib.AHA_CMD_SET_SEL_TIMEOUT:  4,
	seqacquirelib.AHA_CMD_SET_BUS_ON_TIME:  1,
	seqacquirelib.AHA_CMD_SET_BUS_OFF_TIME: 1,
	seqacquirelib.AHA_CMD_SET_TRAN_SPEED:   1,
	seqacquirelib.AHA_CMD_RET_CONF_DATA:    0,
	seqacquirelib.AHA_CMD_EN_TARGET_MODE:   2,
	seqacquirelib.AHA_CMD_RET_SETUP_DATA:   1,
	seqacquirelib.AHA_CMD_ECHO:             1,
	seqacquirelib.AHA_CMD_ADPT_DIAG:        0,
	seqacquirelib.AHA_CMD_SET_ADPT_OPTIONS: 2,
}

type Sim_adapter struct {
	m_log    *tools.Nixomosetools_logger
	m_mem    *seqacquirelib.Host_memory
	m_script Scope_script

	/* register side, m_reg_lock */
	m_reg_lock    sync.Mutex
	m_status      uint8
	m_iflags      uint8
	m_reset_reads int
	m_reply       []uint8
	m_cmd_active  bool
	m_cmd_opcode  uint8
	m_cmd_params  []uint8
	m_cmd_want    int

	m_mailbox_count uint8
	m_mailbox_base  uint32
	m_speed         uint8
	m_target_mask   uint8
	m_target_on     bool

	m_handler func()
	m_masked  bool

	/* device side, m_dev_lock */
	m_dev_lock      sync.Mutex
	m_next_block    int
	m_next_in       int
	m_stalled       map[uint32]bool
	m_backlog       []completion
	m_seen_reset    uint64
	m_reads_started int

	m_generation atomic.Uint64 // bumped by every hard reset

	/* async mode */
	m_sync    bool
	m_kick    chan struct{}
	m_done    chan struct{}
	m_running bool

	m_hard_resets   atomic.Int64
	m_mailbox_inits atomic.Int64
	m_doorbells     atomic.Int64
}

/* New_sim_adapter makes an adapter that does its mailbox work in the goroutine that rings the
   doorbell, which makes everything that happens completely repeatable. */
func New_sim_adapter(log *tools.Nixomosetools_logger, mem *seqacquirelib.Host_memory, script Scope_script) *Sim_adapter {
	var s Sim_adapter
	s.m_log = log
	s.m_mem = mem
	s.m_script = script
	s.m_sync = true
	s.m_masked = true
	s.m_stalled = make(map[uint32]bool)
	s.m_status = seqacquirelib.AHA_STAT_IDLE
	return &s
}

/* Start_async moves the mailbox work and the interrupt onto a goroutine of its own, the way a
   real board completes things whenever it feels like it. */
func (this *Sim_adapter) Start_async() {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	if this.m_running {
		return
	}
	this.m_sync = false
	this.m_running = true
	this.m_kick = make(chan struct{}, 1)
	this.m_done = make(chan struct{})
	go this.worker(this.m_kick, this.m_done)
}

func (this *Sim_adapter) Stop() {
	this.m_reg_lock.Lock()
	if this.m_running == false {
		this.m_reg_lock.Unlock()
		return
	}
	this.m_running = false
	this.m_sync = true
	var kick, done = this.m_kick, this.m_done
	this.m_reg_lock.Unlock()
	close(kick)
	<-done
}

func (this *Sim_adapter) worker(kick chan struct{}, done chan struct{}) {
	defer close(done)
	for range kick {
		this.service()
	}
}

/*****************************************************************************************************/
/*                                       register ports                                              */
/*****************************************************************************************************/

func (this *Sim_adapter) Read_port(offset uint16) byte {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	switch offset {
	case seqacquirelib.AHA_PORT_STAT:
		return this.read_status()
	case seqacquirelib.AHA_PORT_DATA:
		if len(this.m_reply) == 0 {
			return 0
		}
		var v = this.m_reply[0]
		this.m_reply = this.m_reply[1:]
		if len(this.m_reply) == 0 {
			this.command_complete()
		}
		return v
	case seqacquirelib.AHA_PORT_IFLG:
		return this.m_iflags
	}
	return 0xFF
}

// m_reg_lock held
func (this *Sim_adapter) read_status() uint8 {
	if this.m_reset_reads > 0 {
		if this.m_script.Stuck_self_test == false {
			this.m_reset_reads--
		}
		if this.m_reset_reads == 0 {
			this.m_status = seqacquirelib.AHA_STAT_IDLE
			if this.m_script.No_init_after_reset == false {
				this.m_status |= seqacquirelib.AHA_STAT_INIT
			}
			if this.m_script.Diag_failure {
				this.m_status |= seqacquirelib.AHA_STAT_DIAGF
			}
		}
		return seqacquirelib.AHA_STAT_STST
	}
	var st = this.m_status
	if len(this.m_reply) > 0 {
		st |= seqacquirelib.AHA_STAT_DF
	}
	return st
}

func (this *Sim_adapter) Write_port(offset uint16, value byte) {
	var doorbell = false
	this.m_reg_lock.Lock()
	switch offset {
	case seqacquirelib.AHA_PORT_CTRL:
		this.control(value)
	case seqacquirelib.AHA_PORT_DATA:
		doorbell = this.data_out(value)
	}
	var sync = this.m_sync
	var kick = this.m_kick
	this.m_reg_lock.Unlock()

	if doorbell {
		this.m_doorbells.Add(1)
		if sync {
			this.service()
		} else {
			select {
			case kick <- struct{}{}:
			default: // already going to look
			}
		}
	}
}

// m_reg_lock held
func (this *Sim_adapter) control(value uint8) {
	if (value & seqacquirelib.AHA_CTRL_HRST) != 0 {
		this.m_hard_resets.Add(1)
		this.m_generation.Add(1)
		this.m_reset_reads = this.m_script.Reset_status_reads
		if this.m_reset_reads < 1 {
			this.m_reset_reads = 1
		}
		this.m_status = 0
		this.m_iflags = 0
		this.m_reply = nil
		this.m_cmd_active = false
		this.m_mailbox_count = 0
		this.m_target_on = false
		return
	}
	if (value & seqacquirelib.AHA_CTRL_SRST) != 0 {
		this.m_status = seqacquirelib.AHA_STAT_IDLE
		this.m_reply = nil
		this.m_cmd_active = false
	}
	if (value & seqacquirelib.AHA_CTRL_IRST) != 0 {
		this.m_iflags = 0
	}
}

/* data_out takes one byte written to the command port, returns true if it rang the doorbell. */
// m_reg_lock held
func (this *Sim_adapter) data_out(v uint8) bool {
	if this.m_cmd_active == false {
		if v == seqacquirelib.AHA_CMD_START_SCSI && this.m_mailbox_count != 0 {
			return true
		}
		var want, ok = command_params[v]
		this.m_status &^= seqacquirelib.AHA_STAT_INVC
		if ok == false || (this.m_script.Reject_opcode != 0 && v == this.m_script.Reject_opcode) {
			this.m_status |= seqacquirelib.AHA_STAT_INVC
			this.command_complete()
			return false
		}
		this.m_cmd_opcode = v
		this.m_cmd_params = this.m_cmd_params[:0]
		this.m_cmd_want = want
		this.m_status &^= seqacquirelib.AHA_STAT_IDLE
		if want == 0 {
			this.execute()
			return false
		}
		this.m_cmd_active = true
		return false
	}
	this.m_cmd_params = append(this.m_cmd_params, v)
	if len(this.m_cmd_params) == this.m_cmd_want {
		this.m_cmd_active = false
		this.execute()
	}
	return false
}

// m_reg_lock held
func (this *Sim_adapter) command_complete() {
	this.m_status |= seqacquirelib.AHA_STAT_IDLE
	this.m_iflags |= seqacquirelib.AHA_IFLG_ANY | seqacquirelib.AHA_IFLG_HACC
}

// m_reg_lock held
func (this *Sim_adapter) execute() {
	var p = this.m_cmd_params
	var reply []uint8
	switch this.m_cmd_opcode {
	case seqacquirelib.AHA_CMD_MBOX_INIT:
		if p[0] == 0 {
			this.m_status |= seqacquirelib.AHA_STAT_INVC
			break
		}
		this.m_mailbox_count = p[0]
		this.m_mailbox_base = seqacquirelib.Decode_addr([3]byte{p[1], p[2], p[3]})
		this.m_status &^= seqacquirelib.AHA_STAT_INIT
		this.m_mailbox_inits.Add(1)
	case seqacquirelib.AHA_CMD_INQUIRY:
		reply = []uint8{this.m_script.Board_id, this.m_script.Options, this.m_script.Revision[0], this.m_script.Revision[1]}
	case seqacquirelib.AHA_CMD_SET_TRAN_SPEED:
		this.m_speed = p[0]
	case seqacquirelib.AHA_CMD_EN_TARGET_MODE:
		this.m_target_on = p[0] != 0
		this.m_target_mask = p[1]
	case seqacquirelib.AHA_CMD_RET_CONF_DATA:
		reply = []uint8{this.m_script.Config[0], this.m_script.Config[1], this.m_script.Config[2]}
	case seqacquirelib.AHA_CMD_RET_SETUP_DATA:
		var full = this.setup_data()
		var n = int(p[0])
		if n > len(full) {
			n = len(full)
		}
		reply = full[:n]
	case seqacquirelib.AHA_CMD_ECHO:
		reply = []uint8{p[0]}
	}
	if len(reply) == 0 {
		this.command_complete()
		return
	}
	this.m_reply = append([]uint8{}, reply...)
}

// m_reg_lock held
func (this *Sim_adapter) setup_data() []uint8 {
	var addr = seqacquirelib.Encode_addr(this.m_mailbox_base)
	var d = []uint8{0x02, this.m_speed, 11, 4, this.m_mailbox_count, addr[0], addr[1], addr[2]}
	d = append(d, this.m_script.Sync[:]...)
	d = append(d, this.m_script.Disconnect)
	return d
}

/*****************************************************************************************************/
/*                                       interrupt line                                              */
/*****************************************************************************************************/

func (this *Sim_adapter) Attach(handler func()) tools.Ret {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	this.m_handler = handler
	return nil
}

func (this *Sim_adapter) Mask() {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	this.m_masked = true
}

/* Unmask delivers anything that was raised while the line was masked. */
func (this *Sim_adapter) Unmask() {
	this.m_reg_lock.Lock()
	this.m_masked = false
	var pending = (this.m_iflags & seqacquirelib.AHA_IFLG_MBIF) != 0
	var handler = this.m_handler
	this.m_reg_lock.Unlock()
	if pending && handler != nil {
		handler()
	}
}

func (this *Sim_adapter) raise_mailbox_in() {
	this.m_reg_lock.Lock()
	this.m_iflags |= seqacquirelib.AHA_IFLG_ANY | seqacquirelib.AHA_IFLG_MBIF
	var masked = this.m_masked
	var handler = this.m_handler
	this.m_reg_lock.Unlock()
	if masked == false && handler != nil {
		handler()
	}
}

/*****************************************************************************************************/
/*                                          counters                                                 */
/*****************************************************************************************************/

func (this *Sim_adapter) Hard_resets() int {
	return int(this.m_hard_resets.Load())
}

func (this *Sim_adapter) Mailbox_inits() int {
	return int(this.m_mailbox_inits.Load())
}

func (this *Sim_adapter) Doorbells() int {
	return int(this.m_doorbells.Load())
}

func (this *Sim_adapter) Speed() uint8 {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	return this.m_speed
}

func (this *Sim_adapter) Target_mode() (bool, uint8) {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	return this.m_target_on, this.m_target_mask
}

func (this *Sim_adapter) Masked() bool {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	return this.m_masked
}

/* Reads_started counts target reads the scope has been asked for, resubmissions included. */
func (this *Sim_adapter) Reads_started() int {
	this.m_dev_lock.Lock()
	defer this.m_dev_lock.Unlock()
	return this.m_reads_started
}

/* Blocks_sent is how far through its packet list the scope has got. */
func (this *Sim_adapter) Blocks_sent() int {
	this.m_dev_lock.Lock()
	defer this.m_dev_lock.Unlock()
	return this.m_next_block
}
