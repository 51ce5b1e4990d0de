// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"fmt"
	"sync"

	"github.com/nixomose/nixomosegotools/tools"
)

/* the mailbox ring lives in host memory where the adapter can see it: n out slots followed by
   n in slots, 4 bytes each. The host fills out slots and the adapter frees them when it picks the
   ccb up, the adapter fills in slots and the completion path frees them.
   Commands are found again by the bus address of their ccb, which is what the mailbox carries. */

type Doorbell interface {
	Start_command() tools.Ret
}

type Slot_state struct {
	Flag u8
	Addr uint32
}

type Mailbox_ring struct {
	m_log        *tools.Nixomosetools_logger
	m_mem        *Host_memory
	m_doorbell   Doorbell
	m_pause      func() tools.Ret
	m_slots      int
	m_scan_tries int
	m_base       uint32

	m_last_out int // index of the last out slot handed out, the next scan starts after it

	m_registry_lock sync.Mutex
	m_registry      map[uint32]*Command

	/* the interrupt and the poll fallback can both decide to deliver, only one gets to at a time. */
	m_deliver_lock sync.Mutex
}

func New_mailbox_ring(log *tools.Nixomosetools_logger, mem *Host_memory, doorbell Doorbell, slots int,
	pause func() tools.Ret) (tools.Ret, *Mailbox_ring) {
	if slots < 1 || slots > 255 {
		return tools.ErrorWithCode(log, E_INVALID_COMMAND, "invalid number of mailboxes: ", slots), nil
	}
	var m Mailbox_ring
	m.m_log = log
	m.m_mem = mem
	m.m_doorbell = doorbell
	m.m_pause = pause
	m.m_slots = slots
	m.m_scan_tries = DEFAULT_MAILBOX_SCAN_TRIES
	m.m_registry = make(map[uint32]*Command)

	var ret tools.Ret
	ret, m.m_base, _ = mem.Alloc(slots * 2 * MAILBOX_ENTRY_SIZE)
	if ret != nil {
		return ret, nil
	}
	m.m_last_out = slots - 1
	return nil, &m
}

func (this *Mailbox_ring) Set_scan_tries(tries int) {
	if tries < 1 {
		tries = 1
	}
	this.m_scan_tries = tries
}

func (this *Mailbox_ring) Get_base() uint32 {
	return this.m_base
}

func (this *Mailbox_ring) Get_slots() int {
	return this.m_slots
}

func (this *Mailbox_ring) out_addr(index int) uint32 {
	return this.m_base + uint32(index*MAILBOX_ENTRY_SIZE)
}

func (this *Mailbox_ring) in_addr(index int) uint32 {
	return this.m_base + uint32((this.m_slots+index)*MAILBOX_ENTRY_SIZE)
}

func (this *Mailbox_ring) read_entry(addr uint32) (tools.Ret, mailbox_entry) {
	var raw [MAILBOX_ENTRY_SIZE]byte
	var ret = this.m_mem.Read(addr, raw[:])
	if ret != nil {
		return ret, mailbox_entry{}
	}
	return nil, mailbox_entry{Flag: raw[0], Addr: [3]byte{raw[1], raw[2], raw[3]}}
}

func (this *Mailbox_ring) write_entry(addr uint32, e mailbox_entry) tools.Ret {
	return this.m_mem.Write(addr, []byte{e.Flag, e.Addr[0], e.Addr[1], e.Addr[2]})
}

/* find_free_out scans once round the ring starting after the last slot used. */
func (this *Mailbox_ring) find_free_out() (tools.Ret, int) {
	for lp := 1; lp <= this.m_slots; lp++ {
		var index = (this.m_last_out + lp) % this.m_slots
		var ret, e = this.read_entry(this.out_addr(index))
		if ret != nil {
			return ret, -1
		}
		if e.Flag == MBO_FREE {
			return nil, index
		}
	}
	return nil, -1
}

func (this *Mailbox_ring) register(cmd *Command) {
	this.m_registry_lock.Lock()
	defer this.m_registry_lock.Unlock()
	this.m_registry[cmd.m_ccb_addr] = cmd
}

func (this *Mailbox_ring) unregister(addr uint32) *Command {
	this.m_registry_lock.Lock()
	defer this.m_registry_lock.Unlock()
	var cmd, found = this.m_registry[addr]
	if found == false {
		return nil
	}
	delete(this.m_registry, addr)
	return cmd
}

func (this *Mailbox_ring) Outstanding() int {
	this.m_registry_lock.Lock()
	defer this.m_registry_lock.Unlock()
	return len(this.m_registry)
}

/* Submit hands cmd to the adapter with action MBO_START or MBO_ABORT. If no slot frees up
   within the scan budget, or the doorbell fails, no slot is left changed. */
func (this *Mailbox_ring) Submit(cmd *Command, action u8) tools.Ret {
	if action != MBO_START && action != MBO_ABORT {
		return tools.ErrorWithCode(this.m_log, E_INVALID_COMMAND, "invalid mailbox action: ", action)
	}
	var ret tools.Ret
	var index int = -1
	for tries := 0; tries < this.m_scan_tries; tries++ {
		if ret, index = this.find_free_out(); ret != nil {
			return ret
		}
		if index >= 0 {
			break
		}
		if this.m_pause != nil {
			if ret = this.m_pause(); ret != nil {
				return ret
			}
		}
	}
	if index < 0 {
		return tools.ErrorWithCode(this.m_log, E_NO_FREE_MAILBOX_SLOT, "no free out mailbox after ", this.m_scan_tries, " scans")
	}

	var slot_addr = this.out_addr(index)
	if action == MBO_START {
		cmd.reset_completion()
		this.register(cmd)
	}
	ret = this.write_entry(slot_addr, mailbox_entry{Flag: action, Addr: Encode_addr(cmd.m_ccb_addr)})
	if ret != nil {
		if action == MBO_START {
			this.unregister(cmd.m_ccb_addr)
		}
		return ret
	}

	ret = this.m_doorbell.Start_command()
	if ret != nil {
		/* the adapter never heard about it, take it back. */
		this.write_entry(slot_addr, mailbox_entry{Flag: MBO_FREE})
		if action == MBO_START {
			this.unregister(cmd.m_ccb_addr)
		}
		return ret
	}
	this.m_last_out = index
	return nil
}

/* Deliver_completions is the completion path. Every in slot with something in it gets its
   command completed and is then freed. It returns how many commands it completed. */
func (this *Mailbox_ring) Deliver_completions() int {
	this.m_deliver_lock.Lock()
	defer this.m_deliver_lock.Unlock()

	var delivered int = 0
	for lp := 0; lp < this.m_slots; lp++ {
		var slot_addr = this.in_addr(lp)
		var ret, e = this.read_entry(slot_addr)
		if ret != nil {
			continue
		}
		switch e.Flag {
		case MBI_FREE:
			continue
		case MBI_CCB_REQ:
			// nothing to hand back to anybody
		case MBI_COMPLETE, MBI_ABORTED, MBI_NOTFOUND, MBI_ERROR:
			var addr = Decode_addr(e.Addr)
			var cmd = this.unregister(addr)
			if cmd == nil {
				this.m_log.Error("completion for unknown ccb at ", fmt.Sprintf("0x%06x", addr), " mailbox flag ", e.Flag)
				break
			}
			var ccb_ret, ccb = cmd.Read_ccb()
			var hastat, tarstat = ccb.Hastat, ccb.Tarstat
			if ccb_ret != nil {
				hastat = HS_INV_CCB_PARM
			}
			if cmd.complete(e.Flag, hastat, tarstat) {
				delivered++
			}
		default:
			this.m_log.Error("unexpected in mailbox flag ", e.Flag, " in slot ", lp)
		}
		this.write_entry(slot_addr, mailbox_entry{Flag: MBI_FREE})
	}
	return delivered
}

func (this *Mailbox_ring) Slot_states() (out []Slot_state, in []Slot_state) {
	out = make([]Slot_state, this.m_slots)
	in = make([]Slot_state, this.m_slots)
	for lp := 0; lp < this.m_slots; lp++ {
		var _, o = this.read_entry(this.out_addr(lp))
		out[lp] = Slot_state{Flag: o.Flag, Addr: Decode_addr(o.Addr)}
		var _, i = this.read_entry(this.in_addr(lp))
		in[lp] = Slot_state{Flag: i.Flag, Addr: Decode_addr(i.Addr)}
	}
	return out, in
}

/* Reset empties every slot and forgets every outstanding command. Only call it with the
   adapter reset, nothing can complete after this. */
func (this *Mailbox_ring) Reset() tools.Ret {
	this.m_deliver_lock.Lock()
	defer this.m_deliver_lock.Unlock()
	var ret = this.m_mem.Write(this.m_base, make([]byte, this.m_slots*2*MAILBOX_ENTRY_SIZE))
	if ret != nil {
		return ret
	}
	this.m_registry_lock.Lock()
	this.m_registry = make(map[uint32]*Command)
	this.m_registry_lock.Unlock()
	this.m_last_out = this.m_slots - 1
	return nil
}

func (this *Mailbox_ring) Release() tools.Ret {
	if this.m_base == 0 {
		return nil
	}
	var ret = this.m_mem.Free(this.m_base)
	this.m_base = 0
	return ret
}
