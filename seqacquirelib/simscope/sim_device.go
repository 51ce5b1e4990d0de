// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package simscope

import (
	"bytes"
	"encoding/binary"

	"github.com/nixomose/seqacquire/seqacquirelib"
)

/* the bus side of the adapter: walk the out mailboxes, run each ccb against the scope, write the
   results back into host memory and post the completions. */

type completion struct {
	ccb_addr uint32
	flag     uint8
}

func (this *Sim_adapter) mailbox_geometry() (uint8, uint32) {
	this.m_reg_lock.Lock()
	defer this.m_reg_lock.Unlock()
	return this.m_mailbox_count, this.m_mailbox_base
}

func (this *Sim_adapter) service() {
	var count, base = this.mailbox_geometry()
	if count == 0 {
		return
	}
	var generation = this.m_generation.Load()

	this.m_dev_lock.Lock()
	if generation != this.m_seen_reset {
		/* the board was reset, whatever it was holding on to is gone. the scope isn't. */
		this.m_seen_reset = generation
		this.m_stalled = make(map[uint32]bool)
		this.m_backlog = nil
		this.m_next_in = 0
	}

	var posted = false
	for lp := 0; lp < int(count); lp++ {
		var slot = base + uint32(lp*seqacquirelib.MAILBOX_ENTRY_SIZE)
		var raw [seqacquirelib.MAILBOX_ENTRY_SIZE]byte
		if ret := this.m_mem.Read(slot, raw[:]); ret != nil {
			continue
		}
		var flag = raw[0]
		var ccb_addr = seqacquirelib.Decode_addr([3]byte{raw[1], raw[2], raw[3]})
		switch flag {
		case seqacquirelib.MBO_START:
			this.m_mem.Write(slot, []byte{seqacquirelib.MBO_FREE, 0, 0, 0})
			var c, done = this.run_ccb(ccb_addr)
			if done {
				this.m_backlog = append(this.m_backlog, c)
			}
		case seqacquirelib.MBO_ABORT:
			this.m_mem.Write(slot, []byte{seqacquirelib.MBO_FREE, 0, 0, 0})
			var c = completion{ccb_addr: ccb_addr, flag: seqacquirelib.MBI_NOTFOUND}
			if this.m_stalled[ccb_addr] {
				delete(this.m_stalled, ccb_addr)
				c.flag = seqacquirelib.MBI_ABORTED
				this.write_status(ccb_addr, seqacquirelib.HS_NO_ERROR, seqacquirelib.TS_OK, nil, nil)
			}
			this.m_backlog = append(this.m_backlog, c)
		}
	}
	posted = this.post_backlog(count, base)

	/* anything run after a reset came in belongs to a board that doesn't exist any more. */
	if this.m_generation.Load() != generation {
		posted = false
	}
	this.m_dev_lock.Unlock()

	if posted {
		this.raise_mailbox_in()
	}
}

/* post_backlog moves as many finished ccbs into free in mailboxes as will fit. */
// m_dev_lock held
func (this *Sim_adapter) post_backlog(count uint8, base uint32) bool {
	var posted = false
	for len(this.m_backlog) > 0 {
		var found = -1
		for lp := 0; lp < int(count); lp++ {
			var index = (this.m_next_in + lp) % int(count)
			var slot = base + uint32((int(count)+index)*seqacquirelib.MAILBOX_ENTRY_SIZE)
			var raw [1]byte
			if ret := this.m_mem.Read(slot, raw[:]); ret == nil && raw[0] == seqacquirelib.MBI_FREE {
				found = index
				break
			}
		}
		if found < 0 {
			break // host hasn't emptied any yet, they go next time
		}
		var c = this.m_backlog[0]
		this.m_backlog = this.m_backlog[1:]
		var addr = seqacquirelib.Encode_addr(c.ccb_addr)
		var slot = base + uint32((int(count)+found)*seqacquirelib.MAILBOX_ENTRY_SIZE)
		this.m_mem.Write(slot, []byte{c.flag, addr[0], addr[1], addr[2]})
		this.m_next_in = (found + 1) % int(count)
		posted = true
	}
	return posted
}

func (this *Sim_adapter) read_ccb(addr uint32) (bool, seqacquirelib.Ccb) {
	var ccb seqacquirelib.Ccb
	var raw = make([]byte, seqacquirelib.CCB_SIZE)
	if ret := this.m_mem.Read(addr, raw); ret != nil {
		return false, ccb
	}
	if err := binary.Read(bytes.NewBuffer(raw), binary.BigEndian, &ccb); err != nil {
		return false, ccb
	}
	return true, ccb
}

/* write_status is the adapter writing back into the ccb. data_len and sdb are left alone if nil. */
func (this *Sim_adapter) write_status(addr uint32, hastat uint8, tarstat uint8, data_len *uint32, sdb []byte) {
	if data_len != nil {
		var l = seqacquirelib.Encode_len(*data_len)
		this.m_mem.Write(addr+uint32(seqacquirelib.CCB_OFFSET_DATA_LEN), l[:])
	}
	if sdb != nil {
		this.m_mem.Write(addr+uint32(seqacquirelib.CCB_OFFSET_SDB), sdb)
	}
	this.m_mem.Write(addr+uint32(seqacquirelib.CCB_OFFSET_HASTAT), []byte{hastat, tarstat})
}

/* run_ccb does what one ccb asks. false means it hasn't finished and won't until something
   else happens. */
// m_dev_lock held
func (this *Sim_adapter) run_ccb(addr uint32) (completion, bool) {
	var ok, ccb = this.read_ccb(addr)
	var c = completion{ccb_addr: addr, flag: seqacquirelib.MBI_COMPLETE}
	if ok == false {
		c.flag = seqacquirelib.MBI_ERROR
		return c, true
	}
	if this.m_script.Absent {
		this.write_status(addr, seqacquirelib.HS_SEL_TIMEOUT, seqacquirelib.TS_OK, nil, nil)
		c.flag = seqacquirelib.MBI_ERROR
		return c, true
	}

	switch ccb.Opcode {
	case seqacquirelib.CCB_OP_ICCB:
		return this.run_initiator(addr, ccb), true
	case seqacquirelib.CCB_OP_TCCB:
		if ccb.Inbound() {
			return this.run_target_receive(addr, ccb)
		}
	}
	this.write_status(addr, seqacquirelib.HS_INV_OPCODE, seqacquirelib.TS_OK, nil, nil)
	c.flag = seqacquirelib.MBI_ERROR
	return c, true
}

// m_dev_lock held
func (this *Sim_adapter) run_initiator(addr uint32, ccb seqacquirelib.Ccb) completion {
	var c = completion{ccb_addr: addr, flag: seqacquirelib.MBI_COMPLETE}
	switch ccb.Cdb[0] {
	case seqacquirelib.CDB_OP_TEST_RDY:
		if this.m_script.Target_sense != 0 {
			var sdb = make([]byte, seqacquirelib.SDB_SIZE)
			sdb[0] = seqacquirelib.SDB_NO_RESIDUE
			sdb[2] = uint8(this.m_script.Target_sense>>8) & 15
			sdb[12] = uint8(this.m_script.Target_sense)
			this.write_status(addr, seqacquirelib.HS_NO_ERROR, seqacquirelib.TS_CHECK, nil, sdb)
			c.flag = seqacquirelib.MBI_ERROR
			return c
		}
		this.write_status(addr, seqacquirelib.HS_NO_ERROR, seqacquirelib.TS_OK, nil, nil)
	case seqacquirelib.CDB_OP_INQUIRY:
		var idb seqacquirelib.Idb
		idb.Qual_type = 0x03 // processor device
		idb.Ansi_ver = 1
		idb.Inquiry_len = uint8(seqacquirelib.IDB_SIZE - 5)
		copy(idb.Vendor_id[:], "LECROY  ")
		copy(idb.Product_id[:], "7200A SEQUENCE  ")
		copy(idb.Product_rev[:], "1.0 ")
		var buf = &bytes.Buffer{}
		binary.Write(buf, binary.BigEndian, idb)
		var want = seqacquirelib.Decode_len(ccb.Data_len)
		var data = buf.Bytes()
		if uint32(len(data)) > want {
			data = data[:want]
		}
		this.m_mem.Write(seqacquirelib.Decode_addr(ccb.Data_addr), data)
		this.write_status(addr, seqacquirelib.HS_NO_ERROR, seqacquirelib.TS_OK, nil, nil)
	default:
		this.write_status(addr, seqacquirelib.HS_INV_CCB_PARM, seqacquirelib.TS_OK, nil, nil)
		c.flag = seqacquirelib.MBI_ERROR
	}
	return c
}

/* run_target_receive is the scope sending us its next block. */
// m_dev_lock held
func (this *Sim_adapter) run_target_receive(addr uint32, ccb seqacquirelib.Ccb) (completion, bool) {
	var c = completion{ccb_addr: addr, flag: seqacquirelib.MBI_COMPLETE}
	this.m_reads_started++
	var index = this.m_next_block
	if index >= len(this.m_script.Packets) || index == this.m_script.Stall_block {
		this.m_stalled[addr] = true
		return c, false
	}
	if index == this.m_script.Error_block {
		this.write_status(addr, seqacquirelib.HS_PHASE_ERROR, seqacquirelib.TS_OK, nil, nil)
		c.flag = seqacquirelib.MBI_ERROR
		return c, true
	}

	var requested = seqacquirelib.Decode_len(ccb.Data_len)
	var block = Block_payload(index, this.m_script.Packets[index], this.m_script.Block_size)
	var moved = uint32(len(block))
	if moved > requested {
		moved = requested
	}
	this.m_mem.Write(seqacquirelib.Decode_addr(ccb.Data_addr), block[:moved])
	this.m_next_block++

	if this.m_script.Block_size != requested {
		/* over or under run, the length field says how much really moved */
		this.write_status(addr, seqacquirelib.HS_OVER_RUN, seqacquirelib.TS_OK, &moved, nil)
		c.flag = seqacquirelib.MBI_ERROR
		return c, true
	}
	this.write_status(addr, seqacquirelib.HS_NO_ERROR, seqacquirelib.TS_OK, nil, nil)
	return c, true
}
