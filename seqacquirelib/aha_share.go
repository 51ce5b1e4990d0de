// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

/* everything the host and the adapter agree on: port offsets, register bits, adapter opcodes,
   mailbox flags and the fixed layout of the command control block.
   the structs here are only ever moved on and off the bus with encoding/binary, they must
   stay byte for byte the same size as the adapter's view of them, so no go-side fields
   and no implicit padding. every multi byte address or length is 3 bytes, high byte first. */

/* port offsets from the adapter's io base */

const AHA_PORT_CTRL uint16 = 0 // control (write)
const AHA_PORT_STAT uint16 = 0 // status (read)
const AHA_PORT_DATA uint16 = 1 // command/data out on write, data in on read
const AHA_PORT_IFLG uint16 = 2 // interrupt flags (read)

/* control register bits, self clearing */

const AHA_CTRL_HRST u8 = 0x80  // hard reset
const AHA_CTRL_SRST u8 = 0x40  // soft reset
const AHA_CTRL_IRST u8 = 0x20  // interrupt reset
const AHA_CTRL_SCRST u8 = 0x10 // scsi bus reset

/* status register bits */

const AHA_STAT_STST u8 = 0x80  // self test in progress
const AHA_STAT_DIAGF u8 = 0x40 // internal diagnostic failure
const AHA_STAT_INIT u8 = 0x20  // mailbox initialization required
const AHA_STAT_IDLE u8 = 0x10  // host adapter idle
const AHA_STAT_CDF u8 = 0x08   // command/data out port full
const AHA_STAT_DF u8 = 0x04    // data in port full
const AHA_STAT_INVC u8 = 0x01  // invalid command

/* interrupt flag bits */

const AHA_IFLG_ANY u8 = 0x80  // any interrupt
const AHA_IFLG_SCRD u8 = 0x08 // scsi reset detected
const AHA_IFLG_HACC u8 = 0x04 // host adapter command complete
const AHA_IFLG_MBOA u8 = 0x02 // mailbox out empty
const AHA_IFLG_MBIF u8 = 0x01 // mailbox in full

/* adapter commands */

const AHA_CMD_NO_OP u8 = 0x00
const AHA_CMD_MBOX_INIT u8 = 0x01
const AHA_CMD_START_SCSI u8 = 0x02
const AHA_CMD_START_BIOS u8 = 0x03
const AHA_CMD_INQUIRY u8 = 0x04
const AHA_CMD_EN_MBOX_OUT_INT u8 = 0x05
const AHA_CMD_SET_SEL_TIMEOUT u8 = 0x06
const AHA_CMD_SET_BUS_ON_TIME u8 = 0x07
const AHA_CMD_SET_BUS_OFF_TIME u8 = 0x08
const AHA_CMD_SET_TRAN_SPEED u8 = 0x09
const AHA_CMD_RET_CONF_DATA u8 = 0x0B
const AHA_CMD_EN_TARGET_MODE u8 = 0x0C
const AHA_CMD_RET_SETUP_DATA u8 = 0x0D
const AHA_CMD_ECHO u8 = 0x1F
const AHA_CMD_ADPT_DIAG u8 = 0x20
const AHA_CMD_SET_ADPT_OPTIONS u8 = 0x21

const AHA_SETUP_DATA_LENGTH u8 = 17 // return setup data always asks for the whole record

/* mailbox out flags */

const MBO_FREE u8 = 0x00
const MBO_START u8 = 0x01
const MBO_ABORT u8 = 0x02

/* mailbox in flags */

const MBI_FREE u8 = 0x00
const MBI_COMPLETE u8 = 0x01 // ccb completed without error
const MBI_ABORTED u8 = 0x02  // ccb aborted by host
const MBI_NOTFOUND u8 = 0x03 // aborted ccb not found
const MBI_ERROR u8 = 0x04    // ccb completed with error
const MBI_CCB_REQ u8 = 0x10  // ccb required, protocol noise, no command attached

const MAILBOX_ENTRY_SIZE int = 4

type mailbox_entry struct {
	Flag u8
	Addr [3]byte // bus address of the ccb
}

/* scsi command data block */

const CDB_SIZE int = 6

const CDB_OP_TEST_RDY u8 = 0x00 // test unit ready
const CDB_OP_RECV u8 = 0x08     // transfer data: target to initiator
const CDB_OP_SEND u8 = 0x0A     // transfer data: initiator to target
const CDB_OP_INQUIRY u8 = 0x12

type Cdb struct {
	Opcode    u8
	Lun       u8
	Len       [3]byte
	Flag_link u8
}

/* scsi sense data block */

const SDB_SIZE int = 14

const SDB_HAS_RESIDUE u8 = 0xF0
const SDB_NO_RESIDUE u8 = 0x70

/* values of Sdb.Sense_code(), key in the high byte, additional sense code in the low byte */

const SENSE_NO_SENSE_DATA u16 = 0x000
const SENSE_INV_CMD_OPCODE u16 = 0x020
const SENSE_INV_LUN u16 = 0x525
const SENSE_INV_CMD_PARM u16 = 0x526
const SENSE_RESET_ATTN u16 = 0x629
const SENSE_PARITY_ERROR u16 = 0xB47
const SENSE_INITIATOR_ERROR u16 = 0xB48
const SENSE_DUMB_INITIATOR u16 = 0x52B

type Sdb struct {
	Error      u8
	Res1       u8
	Ili_key    u8
	Info       [4]byte // residue
	Sense_len  u8
	Res2       [4]byte
	Sense_code u8
	Sense_qual u8
}

func (this *Sdb) Ili() bool {
	return (this.Ili_key & 0x20) != 0
}

func (this *Sdb) Key() u8 {
	return this.Ili_key & 15
}

func (this *Sdb) Code() u16 {
	return (u16(this.Key()) << 8) | u16(this.Sense_code)
}

/* scsi inquiry data block */

const IDB_SIZE int = 36

type Idb struct {
	Qual_type   u8
	Res1        u8
	Ansi_ver    u8
	Rdf         u8
	Inquiry_len u8
	Res2        [2]byte
	Sync_link   u8
	Vendor_id   [8]byte
	Product_id  [16]byte
	Product_rev [4]byte
}

/* host adapter command control block */

const CCB_SIZE int = 18 + CDB_SIZE + SDB_SIZE // 38

const CCB_OP_ICCB u8 = 0x00 // initiator ccb
const CCB_OP_TCCB u8 = 0x01 // target ccb
const CCB_OP_ICCB_SG u8 = 0x02
const CCB_OP_ICCB_LEN u8 = 0x03 // initiator ccb with returned length
const CCB_OP_ICCB_SG_LEN u8 = 0x04
const CCB_OP_RESET u8 = 0x81 // scsi bus device reset

/* byte offsets into a serialized ccb, the adapter writes status and the residual length back
   through these. */

const CCB_OFFSET_DATA_LEN int = 4
const CCB_OFFSET_DATA_ADDR int = 7
const CCB_OFFSET_HASTAT int = 14
const CCB_OFFSET_TARSTAT int = 15
const CCB_OFFSET_CDB int = 18
const CCB_OFFSET_SDB int = 18 + CDB_SIZE

/* host adapter status */

const HS_NO_ERROR u8 = 0x00
const HS_SEL_TIMEOUT u8 = 0x11
const HS_OVER_RUN u8 = 0x12 // data over run or under run
const HS_UNEXP_FREE u8 = 0x13
const HS_PHASE_ERROR u8 = 0x14
const HS_INV_OPCODE u8 = 0x16
const HS_LINK_LUN_ERROR u8 = 0x17
const HS_INV_TARG_DIR u8 = 0x18
const HS_DUP_CCB u8 = 0x19
const HS_INV_CCB_PARM u8 = 0x1A
const HS_PENDING u8 = 0xFF // completion status hasn't been written

/* target status */

const TS_OK u8 = 0x00
const TS_CHECK u8 = 0x02
const TS_LUN_BUSY u8 = 0x08

type Ccb struct {
	Opcode    u8
	Addr_dir  u8 // id<<5 | odt<<4 | idt<<3 | lun
	Cmd_len   u8
	Sense_len u8
	Data_len  [3]byte
	Data_addr [3]byte
	Link_addr [3]byte
	Link_id   u8
	Hastat    u8
	Tarstat   u8
	Res       [2]byte
	Cdb       [CDB_SIZE]byte
	Sdb       [SDB_SIZE]byte
}

func Addr_dir(id u8, outbound bool, inbound bool, lun u8) u8 {
	var odt, idt u8
	if outbound {
		odt = 1
	}
	if inbound {
		idt = 1
	}
	return ((id & 7) << 5) | (odt << 4) | (idt << 3) | (lun & 7)
}

func (this *Ccb) Target_id() u8 {
	return (this.Addr_dir >> 5) & 7
}

func (this *Ccb) Outbound() bool {
	return (this.Addr_dir & 0x10) != 0
}

func (this *Ccb) Inbound() bool {
	return (this.Addr_dir & 0x08) != 0
}

func (this *Ccb) Lun() u8 {
	return this.Addr_dir & 7
}

/* the logical unit the target side answers on */

const TARGET_LUN u8 = 7

/* adapter defaults */

const DEFAULT_POLL_LIMIT int = 10000     // register handshake polls before AdapterTimeout
const DEFAULT_MAILBOX_SLOTS int = 4      // out slots, there are as many in slots
const DEFAULT_MAILBOX_SCAN_TRIES int = 1000
const DEFAULT_TARGET_READY_TRIES int = 5
