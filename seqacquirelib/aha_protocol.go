// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
)

/* the byte level conversation with the adapter. everything here is a poll loop over the status
   register, bounded by m_poll_limit iterations with a pause (abort check and yield) in each one. */

type Adapter_inquiry struct {
	Board_id   u8
	Board_name string
	Options    u8
	Revision   string
}

type Adapter_config struct {
	Dma_channel int
	Irq         int
	Scsi_id     u8
}

type Sync_negotiation struct {
	Valid     bool
	Period_ns int
	Offset    int
}

type Adapter_setup struct {
	Sync_transfer      bool
	Parity             bool
	Speed              u8
	Bus_on             u8
	Bus_off            u8
	Mailbox_count      u8
	Mailbox_addr       uint32
	Sync               [8]Sync_negotiation
	Disconnect_allowed [8]bool
}

type Aha_adapter struct {
	m_log        *tools.Nixomosetools_logger
	m_port       seqacquireinterfaces.Register_port
	m_irq        seqacquireinterfaces.Interrupt_line
	m_abort      seqacquireinterfaces.Abort_poller
	m_poll_limit int
	m_speed      u8

	m_config  Adapter_config
	m_inquiry Adapter_inquiry
	m_setup   Adapter_setup
}

func New_aha_adapter(log *tools.Nixomosetools_logger, port seqacquireinterfaces.Register_port,
	irq seqacquireinterfaces.Interrupt_line, abort seqacquireinterfaces.Abort_poller, speed u8) *Aha_adapter {
	var a Aha_adapter
	a.m_log = log
	a.m_port = port
	a.m_irq = irq
	a.m_abort = abort
	a.m_poll_limit = DEFAULT_POLL_LIMIT
	a.m_speed = speed
	return &a
}

func (this *Aha_adapter) Set_poll_limit(limit int) {
	if limit < 1 {
		limit = 1
	}
	this.m_poll_limit = limit
}

func (this *Aha_adapter) Get_config() Adapter_config {
	return this.m_config
}

func (this *Aha_adapter) Get_inquiry() Adapter_inquiry {
	return this.m_inquiry
}

func (this *Aha_adapter) Get_setup() Adapter_setup {
	return this.m_setup
}

func (this *Aha_adapter) pause() tools.Ret {
	if this.m_abort != nil && this.m_abort.Abort_requested() {
		return tools.ErrorWithCode(this.m_log, E_ABORTED, "aborted by user")
	}
	runtime.Gosched()
	return nil
}

func (this *Aha_adapter) status() u8 {
	return this.m_port.Read_port(AHA_PORT_STAT)
}

/* wait_for spins until the status register agrees with want under mask, or the poll limit
   runs out. what is only for the error message. */
func (this *Aha_adapter) wait_for(mask u8, want u8, what string) (tools.Ret, u8) {
	for lp := 0; lp < this.m_poll_limit; lp++ {
		var st = this.status()
		if (st & mask) == want {
			return nil, st
		}
		if ret := this.pause(); ret != nil {
			return ret, st
		}
	}
	return tools.ErrorWithCode(this.m_log, E_ADAPTER_TIMEOUT, "timed out waiting for adapter ", what,
		", status: ", fmt.Sprintf("0x%02x", this.status())), this.status()
}

/*****************************************************************************************************/
/*                                          reset                                                    */
/*****************************************************************************************************/

func (this *Aha_adapter) Hard_reset() tools.Ret {
	this.m_port.Write_port(AHA_PORT_CTRL, AHA_CTRL_HRST)
	var ret, st = this.wait_for(AHA_STAT_STST, 0, "self test")
	if ret != nil {
		return ret
	}
	if (st & AHA_STAT_DIAGF) != 0 {
		return tools.ErrorWithCode(this.m_log, E_ADAPTER_DIAGNOSTIC_FAILURE, "adapter internal diagnostic failure after reset")
	}
	if (st & AHA_STAT_INIT) == 0 {
		return tools.ErrorWithCode(this.m_log, E_ADAPTER_UNEXPECTED, "adapter reset failed for unknown reason, status: ",
			fmt.Sprintf("0x%02x", st))
	}
	return nil
}

/* soft reset keeps the mailbox setup, the adapter just goes back to idle. */
func (this *Aha_adapter) Soft_reset() tools.Ret {
	this.m_port.Write_port(AHA_PORT_CTRL, AHA_CTRL_SRST)
	var ret, _ = this.wait_for(AHA_STAT_IDLE, AHA_STAT_IDLE, "idle after soft reset")
	return ret
}

func (this *Aha_adapter) Reset_interrupt() {
	this.m_port.Write_port(AHA_PORT_CTRL, AHA_CTRL_IRST)
}

/*****************************************************************************************************/
/*                                       byte handshake                                              */
/*****************************************************************************************************/

func (this *Aha_adapter) Output_byte(v u8) tools.Ret {
	var ret, _ = this.wait_for(AHA_STAT_CDF, 0, "command/data out port to empty")
	if ret != nil {
		return ret
	}
	this.m_port.Write_port(AHA_PORT_DATA, v)
	return nil
}

func (this *Aha_adapter) Input_byte() (tools.Ret, u8) {
	var ret, _ = this.wait_for(AHA_STAT_DF, AHA_STAT_DF, "data in port to fill")
	if ret != nil {
		return ret, 0
	}
	return nil, this.m_port.Read_port(AHA_PORT_DATA)
}

func (this *Aha_adapter) Wait_until_idle() tools.Ret {
	var ret, _ = this.wait_for(AHA_STAT_IDLE, AHA_STAT_IDLE, "idle")
	return ret
}

/* Check_end_command always clears the interrupt flag. An invalid command comes back as
   E_INVALID_COMMAND and it is up to the caller whether that matters. */
func (this *Aha_adapter) Check_end_command() tools.Ret {
	var ret = this.Wait_until_idle()
	if ret != nil {
		return ret
	}
	var st = this.status()
	this.Reset_interrupt()
	if (st & AHA_STAT_INVC) != 0 {
		return tools.ErrorWithCode(this.m_log, E_INVALID_COMMAND, "adapter rejected command as invalid")
	}
	return nil
}

/* Exchange runs one adapter command that answers with reply_len bytes. */
func (this *Aha_adapter) Exchange(opcode u8, params []u8, reply_len int) (tools.Ret, []u8) {
	var ret = this.Wait_until_idle()
	if ret != nil {
		return ret, nil
	}
	if ret = this.Output_byte(opcode); ret != nil {
		return ret, nil
	}
	for _, p := range params {
		if ret = this.Output_byte(p); ret != nil {
			return ret, nil
		}
	}
	var reply = make([]u8, reply_len)
	for lp := 0; lp < reply_len; lp++ {
		if ret, reply[lp] = this.Input_byte(); ret != nil {
			return ret, nil
		}
	}
	if ret = this.Check_end_command(); ret != nil {
		return ret, nil
	}
	return nil, reply
}

func (this *Aha_adapter) Run_command(opcode u8, params ...u8) tools.Ret {
	var ret, _ = this.Exchange(opcode, params, 0)
	return ret
}

/*****************************************************************************************************/
/*                                  what the adapter tells us                                        */
/*****************************************************************************************************/

func board_name(id u8) string {
	switch id {
	case 0x00:
		return "AHA-1540 (16)"
	case 0x30:
		return "AHA-1540 (64)"
	case 0x41:
		return "AHA-154XB"
	case 0x42:
		return "AHA-1640"
	}
	return "unknown"
}

func (this *Aha_adapter) Inquire() (tools.Ret, Adapter_inquiry) {
	var inq Adapter_inquiry
	var ret, reply = this.Exchange(AHA_CMD_INQUIRY, nil, 4)
	if ret != nil {
		return ret, inq
	}
	inq.Board_id = reply[0]
	inq.Board_name = board_name(reply[0])
	inq.Options = reply[1]
	inq.Revision = fmt.Sprintf("%c.%c", reply[2], reply[3])
	this.m_inquiry = inq
	return nil, inq
}

var dma_channel_bits = map[u8]int{0x80: 7, 0x40: 6, 0x20: 5, 0x01: 0}
var irq_bits = map[u8]int{0x40: 15, 0x20: 14, 0x08: 12, 0x04: 11, 0x02: 10, 0x01: 9}

func (this *Aha_adapter) Return_config_data() (tools.Ret, Adapter_config) {
	var cfg Adapter_config
	var ret, reply = this.Exchange(AHA_CMD_RET_CONF_DATA, nil, 3)
	if ret != nil {
		return ret, cfg
	}
	var ok bool
	if cfg.Dma_channel, ok = dma_channel_bits[reply[0]]; ok == false {
		return tools.ErrorWithCode(this.m_log, E_INVALID_CONFIG, "unrecognized dma channel in config data: ",
			fmt.Sprintf("0x%02x", reply[0])), cfg
	}
	if cfg.Irq, ok = irq_bits[reply[1]]; ok == false {
		return tools.ErrorWithCode(this.m_log, E_INVALID_CONFIG, "unrecognized irq in config data: ",
			fmt.Sprintf("0x%02x", reply[1])), cfg
	}
	cfg.Scsi_id = reply[2] & 7
	this.m_config = cfg
	return nil, cfg
}

func decode_setup(reply []u8) Adapter_setup {
	var s Adapter_setup
	s.Sync_transfer = (reply[0] & 0x01) != 0
	s.Parity = (reply[0] & 0x02) != 0
	s.Speed = reply[1]
	s.Bus_on = reply[2]
	s.Bus_off = reply[3]
	s.Mailbox_count = reply[4]
	s.Mailbox_addr = Decode_addr([3]byte{reply[5], reply[6], reply[7]})
	for lp := 0; lp < 8; lp++ {
		var v = reply[8+lp]
		if (v & 0x80) != 0 {
			s.Sync[lp] = Sync_negotiation{Valid: true, Period_ns: 200 + 50*int((v>>4)&7), Offset: int(v & 15)}
		}
		s.Disconnect_allowed[lp] = (reply[16] & (1 << uint(lp))) == 0
	}
	return s
}

func (this *Aha_adapter) Return_setup_data() (tools.Ret, Adapter_setup) {
	var ret, reply = this.Exchange(AHA_CMD_RET_SETUP_DATA, []u8{AHA_SETUP_DATA_LENGTH}, int(AHA_SETUP_DATA_LENGTH))
	if ret != nil {
		return ret, Adapter_setup{}
	}
	this.m_setup = decode_setup(reply)
	return nil, this.m_setup
}

/*****************************************************************************************************/
/*                                    telling the adapter things                                     */
/*****************************************************************************************************/

func (this *Aha_adapter) Set_transfer_speed(speed u8) tools.Ret {
	return this.Run_command(AHA_CMD_SET_TRAN_SPEED, speed)
}

/* a zero mask turns target mode off. */
func (this *Aha_adapter) Enable_target_mode(lun_mask u8) tools.Ret {
	if lun_mask == 0 {
		return this.Run_command(AHA_CMD_EN_TARGET_MODE, 0, 1)
	}
	return this.Run_command(AHA_CMD_EN_TARGET_MODE, 1, lun_mask)
}

func (this *Aha_adapter) Init_mailbox(count u8, base uint32) tools.Ret {
	var ret, addr = Encode_addr_checked(this.m_log, base)
	if ret != nil {
		return ret
	}
	return this.Run_command(AHA_CMD_MBOX_INIT, count, addr[0], addr[1], addr[2])
}

func (this *Aha_adapter) Set_selection_timeout(ms uint16) tools.Ret {
	var enable u8 = 0
	if ms != 0 {
		enable = 1
	}
	return this.Run_command(AHA_CMD_SET_SEL_TIMEOUT, enable, 0, u8(ms>>8), u8(ms))
}

func (this *Aha_adapter) Set_bus_times(on u8, off u8) tools.Ret {
	var ret = this.Run_command(AHA_CMD_SET_BUS_ON_TIME, on)
	if ret != nil {
		return ret
	}
	return this.Run_command(AHA_CMD_SET_BUS_OFF_TIME, off)
}

func (this *Aha_adapter) Set_adapter_options(mask u8) tools.Ret {
	return this.Run_command(AHA_CMD_SET_ADPT_OPTIONS, 1, mask)
}

func (this *Aha_adapter) Enable_mailbox_out_interrupt(enable bool) tools.Ret {
	var v u8 = 0
	if enable {
		v = 1
	}
	return this.Run_command(AHA_CMD_EN_MBOX_OUT_INT, v)
}

/* Echo sends a byte and expects it straight back, a cheap check that the handshake works. */
func (this *Aha_adapter) Echo(v u8) tools.Ret {
	var ret, reply = this.Exchange(AHA_CMD_ECHO, []u8{v}, 1)
	if ret != nil {
		return ret
	}
	if reply[0] != v {
		return tools.ErrorWithCode(this.m_log, E_IO, "adapter echo mismatch, sent ", fmt.Sprintf("0x%02x", v),
			" got ", fmt.Sprintf("0x%02x", reply[0]))
	}
	return nil
}

/* Start_command is the doorbell, it doesn't wait for idle because the adapter may be busy
   working on other mailboxes. */
func (this *Aha_adapter) Start_command() tools.Ret {
	return this.Output_byte(AHA_CMD_START_SCSI)
}

/*****************************************************************************************************/
/*                                      session setup/teardown                                       */
/*****************************************************************************************************/

func (this *Aha_adapter) Init(num_mailboxes u8, mailbox_base uint32, isr func()) tools.Ret {
	var ret = this.Hard_reset()
	if ret != nil {
		return ret
	}
	if ret = this.Set_transfer_speed(this.m_speed); ret != nil {
		return ret
	}
	if ret = this.Init_mailbox(num_mailboxes, mailbox_base); ret != nil {
		return ret
	}
	if ret = this.Enable_target_mode(1 << TARGET_LUN); ret != nil {
		return ret
	}
	if ret, _ = this.Return_config_data(); ret != nil {
		return ret
	}
	this.Reset_interrupt()
	if ret = this.m_irq.Attach(isr); ret != nil {
		return ret
	}
	this.m_irq.Unmask()
	this.m_log.Debug("adapter initialized, dma ", this.m_config.Dma_channel, " irq ", this.m_config.Irq,
		" scsi id ", this.m_config.Scsi_id, " mailboxes ", num_mailboxes)
	return nil
}

/* Shutdown can't fail as far as the caller is concerned, we're usually already on an error path. */
func (this *Aha_adapter) Shutdown() {
	this.m_irq.Mask()
	/* the reset has to happen even when we got here because of an abort. */
	var abort = this.m_abort
	this.m_abort = nil
	var ret = this.Hard_reset()
	this.m_abort = abort
	if ret != nil {
		this.m_log.Error("hard reset during shutdown failed: ", ret.Get_errmsg())
	}
}

func (this Adapter_inquiry) String() string {
	return fmt.Sprintf("board: %s (0x%02x), options: 0x%02x, firmware revision: %s",
		this.Board_name, this.Board_id, this.Options, this.Revision)
}

func (this Adapter_config) String() string {
	return fmt.Sprintf("dma channel: %d, irq: %d, scsi id: %d", this.Dma_channel, this.Irq, this.Scsi_id)
}

func (this Adapter_setup) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "synchronous transfer: %t, parity: %t, transfer speed: 0x%02x\n", this.Sync_transfer, this.Parity, this.Speed)
	fmt.Fprintf(&sb, "bus on time: %d, bus off time: %d\n", this.Bus_on, this.Bus_off)
	fmt.Fprintf(&sb, "mailboxes: %d at 0x%06x\n", this.Mailbox_count, this.Mailbox_addr)
	for lp := 0; lp < 8; lp++ {
		var s = this.Sync[lp]
		if s.Valid {
			fmt.Fprintf(&sb, "target %d: period %d ns, offset %d", lp, s.Period_ns, s.Offset)
		} else {
			fmt.Fprintf(&sb, "target %d: asynchronous", lp)
		}
		fmt.Fprintf(&sb, ", disconnect allowed: %t\n", this.Disconnect_allowed[lp])
	}
	return sb.String()
}
