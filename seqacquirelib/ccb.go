// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"syscall"

	"github.com/nixomose/nixomosegotools/tools"
)

/*****************************************************************************************************/
/*                                   3 byte big endian fields                                        */
/*****************************************************************************************************/

/* the adapter wants addresses and lengths as 3 bytes high byte first no matter what the host is.
   anything above 24 bits is silently truncated by the plain versions, the _checked ones refuse. */

func Encode_addr(addr uint32) [3]byte {
	return [3]byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

func Decode_addr(b [3]byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func Encode_len(length uint32) [3]byte {
	return Encode_addr(length)
}

func Decode_len(b [3]byte) uint32 {
	return Decode_addr(b)
}

func Encode_addr_checked(log *tools.Nixomosetools_logger, addr uint32) (tools.Ret, [3]byte) {
	if addr >= HOST_ADDRESS_LIMIT {
		return tools.ErrorWithCode(log, -int(syscall.ERANGE), "address ", addr, " does not fit in 3 bytes"), [3]byte{}
	}
	return nil, Encode_addr(addr)
}

func Encode_len_checked(log *tools.Nixomosetools_logger, length uint32) (tools.Ret, [3]byte) {
	if length >= HOST_ADDRESS_LIMIT {
		return tools.ErrorWithCode(log, -int(syscall.ERANGE), "length ", length, " does not fit in 3 bytes"), [3]byte{}
	}
	return nil, Encode_len(length)
}

/*****************************************************************************************************/
/*                                          commands                                                 */
/*****************************************************************************************************/

type Ccb_kind int

const (
	CCB_KIND_INITIATOR Ccb_kind = iota
	CCB_KIND_TARGET
)

type Scsi_op int

const (
	SCSI_OP_TEST_READY Scsi_op = iota
	SCSI_OP_SEND
	SCSI_OP_RECEIVE
	SCSI_OP_INQUIRY
)

func (this Scsi_op) cdb_opcode() u8 {
	switch this {
	case SCSI_OP_TEST_READY:
		return CDB_OP_TEST_RDY
	case SCSI_OP_SEND:
		return CDB_OP_SEND
	case SCSI_OP_RECEIVE:
		return CDB_OP_RECV
	default:
		return CDB_OP_INQUIRY
	}
}

func (this Scsi_op) String() string {
	switch this {
	case SCSI_OP_TEST_READY:
		return "TEST_RDY"
	case SCSI_OP_SEND:
		return "SEND"
	case SCSI_OP_RECEIVE:
		return "RECV"
	case SCSI_OP_INQUIRY:
		return "INQUIRY"
	}
	return fmt.Sprintf("op(%d)", int(this))
}

type direction struct {
	outbound bool
	inbound  bool
}

/* keyed on (kind, op). in target mode the directions are from the other end's point of view:
   the initiator sending to us is an inbound transfer. */
var direction_table = map[Ccb_kind]map[Scsi_op]direction{
	CCB_KIND_TARGET: {
		SCSI_OP_RECEIVE:    {outbound: true, inbound: false},
		SCSI_OP_SEND:       {outbound: false, inbound: true},
		SCSI_OP_TEST_READY: {outbound: false, inbound: true},
		SCSI_OP_INQUIRY:    {outbound: false, inbound: true},
	},
	CCB_KIND_INITIATOR: {
		SCSI_OP_TEST_READY: {outbound: false, inbound: false},
		SCSI_OP_SEND:       {outbound: true, inbound: false},
		SCSI_OP_RECEIVE:    {outbound: false, inbound: true},
		SCSI_OP_INQUIRY:    {outbound: false, inbound: true},
	},
}

func Direction_for(kind Ccb_kind, op Scsi_op) (outbound bool, inbound bool) {
	var d = direction_table[kind][op]
	return d.outbound, d.inbound
}

/* completion word: bit 31 says the adapter is done with it, then tarstat, mailbox in flag and
   hastat, one byte each. it is only ever stored whole so a reader gets pending or the final
   answer, never half of one. */
const completion_done uint32 = 1 << 31
const completion_pending uint32 = uint32(HS_PENDING)

type Completion struct {
	Done          bool
	Mbi_flag      u8
	Host_status   u8
	Target_status u8
}

func unpack_completion(word uint32) Completion {
	return Completion{
		Done:          (word & completion_done) != 0,
		Target_status: u8(word >> 16),
		Mbi_flag:      u8(word >> 8),
		Host_status:   u8(word),
	}
}

func pack_completion(mbi u8, hastat u8, tarstat u8) uint32 {
	return completion_done | uint32(tarstat)<<16 | uint32(mbi)<<8 | uint32(hastat)
}

type Command_id uint32

type Command struct {
	m_log       *tools.Nixomosetools_logger
	m_mem       *Host_memory
	m_ccb_addr  uint32 // bus address of the ccb, the mailbox identifies the command by this
	m_data_addr uint32
	m_data_len  uint32
	m_kind      Ccb_kind
	m_op        Scsi_op
	m_target_id u8
	m_lun       u8
	m_notify    chan<- *Command

	m_completion atomic.Uint32
}

/* Build makes the ccb for one logical request and parks it in host memory. notify may be nil,
   if not, the completion path sends the command on it without blocking. */
func Build(log *tools.Nixomosetools_logger, mem *Host_memory, target_id u8, lun u8, kind Ccb_kind, op Scsi_op,
	buffer_addr uint32, length uint32, notify chan<- *Command) (tools.Ret, *Command) {

	if _, ok := direction_table[kind][op]; ok == false {
		return tools.ErrorWithCode(log, -int(syscall.EINVAL), "no transfer direction for ccb kind ", kind, " op ", op), nil
	}
	if target_id > 7 || lun > 7 {
		return tools.ErrorWithCode(log, -int(syscall.EINVAL), "invalid scsi id ", target_id, " or lun ", lun), nil
	}
	var ret tools.Ret
	if ret, _ = Encode_len_checked(log, length); ret != nil {
		return ret, nil
	}
	if ret, _ = Encode_addr_checked(log, buffer_addr); ret != nil {
		return ret, nil
	}

	var c Command
	c.m_log = log
	c.m_mem = mem
	c.m_data_addr = buffer_addr
	c.m_data_len = length
	c.m_kind = kind
	c.m_op = op
	c.m_target_id = target_id
	c.m_lun = lun
	c.m_notify = notify

	var addr uint32
	ret, addr, _ = mem.Alloc(CCB_SIZE)
	if ret != nil {
		return tools.ErrorWithCode(log, ret.Get_errcode(), "unable to allocate ccb: ", ret.Get_errmsg()), nil
	}
	c.m_ccb_addr = addr

	ret = c.Reinit()
	if ret != nil {
		mem.Free(addr)
		return ret, nil
	}
	return nil, &c
}

func (this *Command) make_ccb() Ccb {
	var outbound, inbound = Direction_for(this.m_kind, this.m_op)
	var ccb Ccb
	if this.m_kind == CCB_KIND_TARGET {
		ccb.Opcode = CCB_OP_TCCB
	} else {
		ccb.Opcode = CCB_OP_ICCB
	}
	ccb.Addr_dir = Addr_dir(this.m_target_id, outbound, inbound, this.m_lun)
	ccb.Cmd_len = u8(CDB_SIZE)
	ccb.Sense_len = u8(SDB_SIZE)
	ccb.Data_len = Encode_len(this.m_data_len)
	ccb.Data_addr = Encode_addr(this.m_data_addr)
	ccb.Hastat = HS_PENDING
	ccb.Tarstat = TS_OK

	var cdb = Cdb{Opcode: this.m_op.cdb_opcode(), Lun: 0, Len: Encode_len(this.m_data_len)}
	ccb.Cdb = [CDB_SIZE]byte{cdb.Opcode, cdb.Lun, cdb.Len[0], cdb.Len[1], cdb.Len[2], cdb.Flag_link}
	return ccb
}

/* Reinit puts the ccb back the way Build made it so the same logical operation can be
   submitted again after a retry. */
func (this *Command) Reinit() tools.Ret {
	var ccb = this.make_ccb()
	structbuf := &bytes.Buffer{}
	err := binary.Write(structbuf, binary.BigEndian, ccb)
	if err != nil {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EINVAL), "unable to serialize ccb: ", err)
	}
	var ret = this.m_mem.Write(this.m_ccb_addr, structbuf.Bytes())
	if ret != nil {
		return ret
	}
	this.reset_completion()
	return nil
}

func (this *Command) reset_completion() {
	this.m_completion.Store(completion_pending)
}

/* complete is the only way the completion word leaves pending, and it only does it once. */
func (this *Command) complete(mbi u8, hastat u8, tarstat u8) bool {
	var swapped = this.m_completion.CompareAndSwap(completion_pending, pack_completion(mbi, hastat, tarstat))
	if swapped && this.m_notify != nil {
		select {
		case this.m_notify <- this:
		default:
		}
	}
	return swapped
}

func (this *Command) Completion() Completion {
	return unpack_completion(this.m_completion.Load())
}

func (this *Command) Id() Command_id {
	return Command_id(this.m_ccb_addr)
}

func (this *Command) Data_addr() uint32 {
	return this.m_data_addr
}

func (this *Command) Data_len() uint32 {
	return this.m_data_len
}

func (this *Command) Op() Scsi_op {
	return this.m_op
}

func (this *Command) Kind() Ccb_kind {
	return this.m_kind
}

/* Read_ccb pulls the ccb back off the bus, only meaningful once the completion says done. */
func (this *Command) Read_ccb() (tools.Ret, Ccb) {
	var raw = make([]byte, CCB_SIZE)
	var ccb Ccb
	var ret = this.m_mem.Read(this.m_ccb_addr, raw)
	if ret != nil {
		return ret, ccb
	}
	err := binary.Read(bytes.NewBuffer(raw), binary.BigEndian, &ccb)
	if err != nil {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EINVAL), "unable to deserialize ccb: ", err), ccb
	}
	return nil, ccb
}

/* Actual_length is what the adapter wrote back into the data length field, which after an
   over/under run is the number of bytes really moved. */
func (this *Command) Actual_length() (tools.Ret, uint32) {
	var ret, ccb = this.Read_ccb()
	if ret != nil {
		return ret, 0
	}
	return nil, Decode_len(ccb.Data_len)
}

func (this *Command) Sense() (tools.Ret, Sdb) {
	var ret, ccb = this.Read_ccb()
	var sdb Sdb
	if ret != nil {
		return ret, sdb
	}
	err := binary.Read(bytes.NewBuffer(ccb.Sdb[:]), binary.BigEndian, &sdb)
	if err != nil {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EINVAL), "unable to deserialize sense data: ", err), sdb
	}
	return nil, sdb
}

func (this *Command) Release() tools.Ret {
	if this.m_ccb_addr == 0 {
		return nil
	}
	var ret = this.m_mem.Free(this.m_ccb_addr)
	this.m_ccb_addr = 0
	return ret
}

func Host_status_name(hastat u8) string {
	switch hastat {
	case HS_NO_ERROR:
		return "ok"
	case HS_SEL_TIMEOUT:
		return "selection timeout"
	case HS_OVER_RUN:
		return "data over/under run"
	case HS_UNEXP_FREE:
		return "unexpected bus free"
	case HS_PHASE_ERROR:
		return "target bus phase sequence failure"
	case HS_INV_OPCODE:
		return "invalid ccb operation code"
	case HS_LINK_LUN_ERROR:
		return "linked ccb lun mismatch"
	case HS_INV_TARG_DIR:
		return "invalid target direction"
	case HS_DUP_CCB:
		return "duplicate ccb in target mode"
	case HS_INV_CCB_PARM:
		return "invalid ccb parameter"
	case HS_PENDING:
		return "pending"
	}
	return fmt.Sprintf("host status 0x%02x", hastat)
}

func Target_status_name(tarstat u8) string {
	switch tarstat {
	case TS_OK:
		return "ok"
	case TS_CHECK:
		return "check condition"
	case TS_LUN_BUSY:
		return "busy"
	}
	return fmt.Sprintf("target status 0x%02x", tarstat)
}
