// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"github.com/nixomose/nixomosegotools/tools"
)

/* a ring of equal sized buffers in adapter addressable memory. the input cursor is the next buffer
   a read goes into, the output cursor is the next one written to the sink. Each buffer goes
   free -> filling -> full -> draining -> free and only ever has one owner doing that. */

type Buffer_state int

const (
	BUFFER_FREE Buffer_state = iota
	BUFFER_FILLING
	BUFFER_FULL
	BUFFER_DRAINING
)

func (this Buffer_state) String() string {
	switch this {
	case BUFFER_FREE:
		return "free"
	case BUFFER_FILLING:
		return "filling"
	case BUFFER_FULL:
		return "full"
	case BUFFER_DRAINING:
		return "draining"
	}
	return "unknown"
}

type Transfer_buffer struct {
	Addr  uint32
	Data  []byte
	State Buffer_state
}

type Transfer_pool struct {
	m_log        *tools.Nixomosetools_logger
	m_mem        *Host_memory
	m_buffers    []Transfer_buffer
	m_wanted     int
	m_block_size uint32

	m_input       int
	m_output      int
	m_blocks_full int
	m_resizes     int
}

/* New_transfer_pool gets as many of count buffers as host memory will give it. Running out part
   way just means a smaller pool, getting none at all is an error. */
func New_transfer_pool(log *tools.Nixomosetools_logger, mem *Host_memory, count int, block_size uint32) (tools.Ret, *Transfer_pool) {
	var p Transfer_pool
	p.m_log = log
	p.m_mem = mem
	p.m_wanted = count
	p.m_block_size = block_size
	p.m_buffers = make([]Transfer_buffer, 0, count)

	var ret = p.allocate_rest()
	if ret != nil {
		return ret, nil
	}
	return nil, &p
}

func (this *Transfer_pool) allocate_rest() tools.Ret {
	for len(this.m_buffers) < this.m_wanted {
		var ret, addr, data = this.m_mem.Alloc(int(this.m_block_size))
		if ret != nil {
			if len(this.m_buffers) == 0 {
				return tools.ErrorWithCode(this.m_log, E_OUT_OF_MEMORY, "unable to allocate any transfer buffers of ",
					this.m_block_size, " bytes")
			}
			this.m_log.Info("only able to allocate ", len(this.m_buffers), " of ", this.m_wanted, " transfer buffers")
			break
		}
		this.m_buffers = append(this.m_buffers, Transfer_buffer{Addr: addr, Data: data, State: BUFFER_FREE})
	}
	return nil
}

/* Resize_keeping_first throws away every buffer but the first, cuts the first one down to size
   without touching its contents, and fills the pool back up at the new size. */
func (this *Transfer_pool) Resize_keeping_first(size uint32) tools.Ret {
	if size == 0 || size > this.m_block_size {
		return tools.ErrorWithCode(this.m_log, E_INVALID_COMMAND, "can not resize transfer pool from ", this.m_block_size,
			" to ", size, " bytes")
	}
	for lp := 1; lp < len(this.m_buffers); lp++ {
		this.m_mem.Free(this.m_buffers[lp].Addr)
	}
	this.m_buffers = this.m_buffers[:1]
	var ret, data = this.m_mem.Shrink(this.m_buffers[0].Addr, int(size))
	if ret != nil {
		return ret
	}
	this.m_buffers[0].Data = data
	this.m_block_size = size
	this.m_resizes++
	return this.allocate_rest()
}

/* Start_after_first sets the cursors up for a pool whose first buffer already holds the first block. */
func (this *Transfer_pool) Start_after_first() {
	for lp := range this.m_buffers {
		this.m_buffers[lp].State = BUFFER_FREE
	}
	this.m_buffers[0].State = BUFFER_FULL
	this.m_output = 0
	this.m_input = 1 % len(this.m_buffers)
	this.m_blocks_full = 1
}

func (this *Transfer_pool) bad_state(what string, index int, want Buffer_state) tools.Ret {
	return tools.ErrorWithCode(this.m_log, E_INVALID_COMMAND, "transfer buffer ", index, " is ",
		this.m_buffers[index].State, ", wanted ", want, " for ", what)
}

func (this *Transfer_pool) Has_full() bool {
	return this.m_blocks_full > 0
}

func (this *Transfer_pool) Has_free() bool {
	return this.m_blocks_full < len(this.m_buffers) && this.m_buffers[this.m_input].State == BUFFER_FREE
}

func (this *Transfer_pool) Begin_fill() (tools.Ret, *Transfer_buffer) {
	var b = &this.m_buffers[this.m_input]
	if b.State != BUFFER_FREE {
		return this.bad_state("fill", this.m_input, BUFFER_FREE), nil
	}
	b.State = BUFFER_FILLING
	return nil, b
}

func (this *Transfer_pool) End_fill() tools.Ret {
	var b = &this.m_buffers[this.m_input]
	if b.State != BUFFER_FILLING {
		return this.bad_state("end of fill", this.m_input, BUFFER_FILLING)
	}
	b.State = BUFFER_FULL
	this.m_input = (this.m_input + 1) % len(this.m_buffers)
	this.m_blocks_full++
	return nil
}

/* Discard_fill gives the buffer back without counting it, memory only mode reads everything into
   the same buffer. */
func (this *Transfer_pool) Discard_fill() tools.Ret {
	var b = &this.m_buffers[this.m_input]
	if b.State != BUFFER_FILLING {
		return this.bad_state("discard", this.m_input, BUFFER_FILLING)
	}
	b.State = BUFFER_FREE
	return nil
}

func (this *Transfer_pool) Begin_drain() (tools.Ret, *Transfer_buffer) {
	var b = &this.m_buffers[this.m_output]
	if b.State != BUFFER_FULL {
		return this.bad_state("drain", this.m_output, BUFFER_FULL), nil
	}
	b.State = BUFFER_DRAINING
	return nil, b
}

func (this *Transfer_pool) End_drain() tools.Ret {
	var b = &this.m_buffers[this.m_output]
	if b.State != BUFFER_DRAINING {
		return this.bad_state("end of drain", this.m_output, BUFFER_DRAINING)
	}
	b.State = BUFFER_FREE
	this.m_output = (this.m_output + 1) % len(this.m_buffers)
	this.m_blocks_full--
	return nil
}

func (this *Transfer_pool) Block(b *Transfer_buffer) []byte {
	return b.Data[:this.m_block_size]
}

func (this *Transfer_pool) Count() int {
	return len(this.m_buffers)
}

func (this *Transfer_pool) Block_size() uint32 {
	return this.m_block_size
}

func (this *Transfer_pool) Blocks_full() int {
	return this.m_blocks_full
}

func (this *Transfer_pool) Resizes() int {
	return this.m_resizes
}

func (this *Transfer_pool) Cursors() (input int, output int) {
	return this.m_input, this.m_output
}

func (this *Transfer_pool) State(index int) Buffer_state {
	return this.m_buffers[index].State
}

func (this *Transfer_pool) Release() {
	for _, b := range this.m_buffers {
		this.m_mem.Free(b.Addr)
	}
	this.m_buffers = this.m_buffers[:0]
}
