// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/nixomose/nixomosegotools/tools"
)

/* the scsi layer is what the acquisition pipeline talks to. it owns the adapter and the mailbox
   ring and turns ccb completions into something the pipeline can act on. */

type Poll_kind int

const (
	POLL_PENDING Poll_kind = iota
	POLL_DONE
	POLL_SHORT_BLOCK
	POLL_ERROR
)

type Poll_status struct {
	Kind          Poll_kind
	Actual_len    uint32
	Mbi_flag      u8
	Host_status   u8
	Target_status u8
}

func (this Poll_status) String() string {
	switch this.Kind {
	case POLL_PENDING:
		return "pending"
	case POLL_DONE:
		return fmt.Sprintf("done(%d)", this.Actual_len)
	case POLL_SHORT_BLOCK:
		return fmt.Sprintf("short block(%d)", this.Actual_len)
	}
	return fmt.Sprintf("error(mailbox 0x%02x, %s, %s)", this.Mbi_flag,
		Host_status_name(this.Host_status), Target_status_name(this.Target_status))
}

/* Error_ret turns a failed poll into the error the caller surfaces. */
func (this Poll_status) Error_ret(log *tools.Nixomosetools_logger, what string) tools.Ret {
	if this.Host_status == HS_SEL_TIMEOUT {
		return tools.ErrorWithCode(log, E_SELECTION_TIMEOUT, what, ": target did not respond to selection")
	}
	return tools.ErrorWithCode(log, E_COMMAND_FAILED, what, ": ", this.String())
}

type Scsi struct {
	m_log     *tools.Nixomosetools_logger
	m_mem     *Host_memory
	m_adapter *Aha_adapter
	m_ring    *Mailbox_ring

	m_mailboxes          int
	m_target_ready_tries int
	m_host_id            u8
	m_present            bool
	m_setup_count        int
}

func New_scsi(log *tools.Nixomosetools_logger, mem *Host_memory, adapter *Aha_adapter, mailboxes int) (tools.Ret, *Scsi) {
	var s Scsi
	s.m_log = log
	s.m_mem = mem
	s.m_adapter = adapter
	s.m_mailboxes = mailboxes
	s.m_target_ready_tries = DEFAULT_TARGET_READY_TRIES

	var ret tools.Ret
	ret, s.m_ring = New_mailbox_ring(log, mem, adapter, mailboxes, adapter.pause)
	if ret != nil {
		return ret, nil
	}
	return nil, &s
}

func (this *Scsi) Get_adapter() *Aha_adapter {
	return this.m_adapter
}

func (this *Scsi) Get_ring() *Mailbox_ring {
	return this.m_ring
}

func (this *Scsi) Get_host_id() u8 {
	return this.m_host_id
}

/* Get_setup_count is how many times Setup has been run on this scsi, retries included. */
func (this *Scsi) Get_setup_count() int {
	return this.m_setup_count
}

func (this *Scsi) isr() {
	var flags = this.m_adapter.m_port.Read_port(AHA_PORT_IFLG)
	if (flags & AHA_IFLG_ANY) == 0 {
		return
	}
	this.m_adapter.Reset_interrupt()
	if (flags & AHA_IFLG_MBIF) != 0 {
		this.m_ring.Deliver_completions()
	}
}

/* Setup brings the adapter up from whatever state it was in. Anything that was outstanding is
   forgotten, the adapter is reset before the ring is cleared so nothing old can complete. */
func (this *Scsi) Setup() (tools.Ret, u8) {
	this.m_setup_count++
	this.m_present = false
	this.m_adapter.Shutdown()
	var ret = this.m_ring.Reset()
	if ret != nil {
		return ret, 0
	}
	ret = this.m_adapter.Init(u8(this.m_mailboxes), this.m_ring.Get_base(), this.isr)
	if ret != nil {
		return ret, 0
	}
	this.m_host_id = this.m_adapter.Get_config().Scsi_id
	this.m_present = true
	return nil, this.m_host_id
}

func (this *Scsi) Hard_reset() tools.Ret {
	var ret = this.m_adapter.Hard_reset()
	if ret != nil {
		return ret
	}
	return this.m_ring.Reset()
}

func (this *Scsi) not_present() tools.Ret {
	return tools.ErrorWithCode(this.m_log, E_ADAPTER_UNEXPECTED, "scsi adapter has not been set up")
}

/* Poll never blocks. If the interrupt hasn't delivered the completion yet it has a go at the
   in mailboxes itself. */
func (this *Scsi) Poll(cmd *Command) Poll_status {
	var c = cmd.Completion()
	if c.Done == false {
		this.m_ring.Deliver_completions()
		c = cmd.Completion()
		if c.Done == false {
			return Poll_status{Kind: POLL_PENDING, Host_status: HS_PENDING}
		}
	}
	var ps = Poll_status{Kind: POLL_ERROR, Mbi_flag: c.Mbi_flag, Host_status: c.Host_status, Target_status: c.Target_status}
	switch c.Mbi_flag {
	case MBI_COMPLETE:
		ps.Kind = POLL_DONE
		ps.Actual_len = cmd.Data_len()
	case MBI_ERROR:
		if c.Host_status == HS_OVER_RUN {
			var ret, actual = cmd.Actual_length()
			if ret == nil && actual < cmd.Data_len() {
				ps.Kind = POLL_SHORT_BLOCK
				ps.Actual_len = actual
			}
		}
	}
	return ps
}

/* wait_command spins on Poll for as long as the adapter poll limit allows. */
func (this *Scsi) wait_command(cmd *Command) (tools.Ret, Poll_status) {
	for lp := 0; lp < this.m_adapter.m_poll_limit; lp++ {
		var ps = this.Poll(cmd)
		if ps.Kind != POLL_PENDING {
			return nil, ps
		}
		if ret := this.m_adapter.pause(); ret != nil {
			return ret, ps
		}
	}
	return tools.ErrorWithCode(this.m_log, E_ADAPTER_TIMEOUT, "timed out waiting for scsi command ", cmd.Op(), " to complete"),
		Poll_status{Kind: POLL_PENDING}
}

/* Test_target_ready asks the device at id if it will talk to us. Not answering selection, or
   answering with a sense code that says it can't be a target, is a plain no. */
func (this *Scsi) Test_target_ready(id u8, lun u8) (tools.Ret, bool) {
	if this.m_present == false {
		return this.not_present(), false
	}
	var ret, cmd = Build(this.m_log, this.m_mem, id, lun, CCB_KIND_INITIATOR, SCSI_OP_TEST_READY, 0, 0, nil)
	if ret != nil {
		return ret, false
	}
	defer cmd.Release()

	const (
		state_unknown = iota
		state_not_target
		state_target
	)
	var state = state_unknown
	for tries := 0; tries < this.m_target_ready_tries && state == state_unknown; tries++ {
		if ret = cmd.Reinit(); ret != nil {
			return ret, false
		}
		if ret = this.m_ring.Submit(cmd, MBO_START); ret != nil {
			return ret, false
		}
		var ps Poll_status
		if ret, ps = this.wait_command(cmd); ret != nil {
			return ret, false
		}
		if ps.Host_status == HS_SEL_TIMEOUT {
			state = state_not_target
		} else if ps.Target_status == TS_OK {
			state = state_target
		} else if ps.Target_status == TS_CHECK {
			var sdb Sdb
			if ret, sdb = cmd.Sense(); ret != nil {
				return ret, false
			}
			switch sdb.Code() {
			case SENSE_INV_LUN, SENSE_DUMB_INITIATOR:
				state = state_not_target
			}
		}
		if ret = this.m_adapter.pause(); ret != nil {
			return ret, false
		}
	}
	return nil, state == state_target
}

/* Inquire_target runs a scsi inquiry against the device at id and hands back its identity. */
func (this *Scsi) Inquire_target(id u8, lun u8) (tools.Ret, Idb) {
	var idb Idb
	if this.m_present == false {
		return this.not_present(), idb
	}
	var ret, addr, _ = this.m_mem.Alloc(IDB_SIZE)
	if ret != nil {
		return ret, idb
	}
	defer this.m_mem.Free(addr)

	var cmd *Command
	ret, cmd = Build(this.m_log, this.m_mem, id, lun, CCB_KIND_INITIATOR, SCSI_OP_INQUIRY, addr, uint32(IDB_SIZE), nil)
	if ret != nil {
		return ret, idb
	}
	defer cmd.Release()

	if ret = this.m_ring.Submit(cmd, MBO_START); ret != nil {
		return ret, idb
	}
	var ps Poll_status
	if ret, ps = this.wait_command(cmd); ret != nil {
		return ret, idb
	}
	if ps.Kind == POLL_ERROR {
		return ps.Error_ret(this.m_log, "inquiry"), idb
	}
	var raw = make([]byte, IDB_SIZE)
	if ret = this.m_mem.Read(addr, raw); ret != nil {
		return ret, idb
	}
	err := binary.Read(bytes.NewBuffer(raw), binary.BigEndian, &idb)
	if err != nil {
		return tools.ErrorWithCode(this.m_log, E_INVALID_CONFIG, "unable to deserialize inquiry data: ", err), idb
	}
	return nil, idb
}

func Idb_string(idb Idb) string {
	return fmt.Sprintf("vendor: %s, product: %s, revision: %s",
		strings.TrimSpace(string(idb.Vendor_id[:])), strings.TrimSpace(string(idb.Product_id[:])),
		strings.TrimSpace(string(idb.Product_rev[:])))
}

/* Submit_read starts the target side receive of one block from id into the host memory at
   buffer_addr. */
func (this *Scsi) Submit_read(id u8, buffer_addr uint32, length uint32) (tools.Ret, *Command) {
	if this.m_present == false {
		return this.not_present(), nil
	}
	var ret, cmd = Build(this.m_log, this.m_mem, id, TARGET_LUN, CCB_KIND_TARGET, SCSI_OP_SEND, buffer_addr, length, nil)
	if ret != nil {
		return ret, nil
	}
	if ret = this.m_ring.Submit(cmd, MBO_START); ret != nil {
		cmd.Release()
		return ret, nil
	}
	return nil, cmd
}

/* Resubmit puts the same logical operation back on the adapter, used after a re-setup. */
func (this *Scsi) Resubmit(cmd *Command) tools.Ret {
	if this.m_present == false {
		return this.not_present()
	}
	var ret = cmd.Reinit()
	if ret != nil {
		return ret
	}
	return this.m_ring.Submit(cmd, MBO_START)
}

func (this *Scsi) Abort(cmd *Command) tools.Ret {
	if this.m_present == false {
		return this.not_present()
	}
	return this.m_ring.Submit(cmd, MBO_ABORT)
}

func (this *Scsi) Shutdown() {
	this.m_present = false
	this.m_adapter.Shutdown()
}

func (this *Scsi) Release() tools.Ret {
	return this.m_ring.Release()
}
