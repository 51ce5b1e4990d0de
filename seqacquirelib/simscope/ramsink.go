// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package simscope

import (
	"syscall"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
)

var _ seqacquireinterfaces.Sink_mechanism = &Ramsink{}
var _ seqacquireinterfaces.Sink_mechanism = (*Ramsink)(nil)
var _ seqacquireinterfaces.Session_aware = (*Ramsink)(nil)

const NO_FAILURE int64 = -1

type Ramsink struct {
	/* For testing the acquisition without a disk we keep every block in memory, in the order
	 * it was written, along with whether it was flagged final. */

	m_log        *tools.Nixomosetools_logger
	m_block_size uint32
	m_blocks     map[uint64][]byte
	m_order      []uint64
	m_finals     []bool
	m_open       bool
	m_opens      int
	m_closes     int
	m_fail_at    int64
}

func New_ramsink(log *tools.Nixomosetools_logger) *Ramsink {
	var ret Ramsink
	ret.m_log = log
	ret.m_blocks = make(map[uint64][]byte)
	ret.m_fail_at = NO_FAILURE
	return &ret
}

/* Fail_write_at makes the write of block_number fail with EIO. */
func (this *Ramsink) Fail_write_at(block_number int64) {
	this.m_fail_at = block_number
}

func (this *Ramsink) Open() tools.Ret {
	this.m_open = true
	this.m_opens++
	return nil
}

func (this *Ramsink) Process_device(device seqacquireinterfaces.Session_device) tools.Ret {
	this.m_block_size = device.Get_block_size_in_bytes()
	return nil
}

func (this *Ramsink) Write_block(block_number uint64, data []byte, final bool) tools.Ret {
	if this.m_open == false {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EBADF), "ramsink is not open")
	}
	if this.m_fail_at >= 0 && uint64(this.m_fail_at) == block_number {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "ramsink failing write of block ", block_number)
	}
	if _, found := this.m_blocks[block_number]; found {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EEXIST), "block ", block_number, " written twice")
	}
	var d = make([]byte, len(data))
	var copied int = copy(d, data)
	if copied != len(data) {
		return tools.ErrorWithCode(this.m_log, -int(syscall.ENODATA), "unable to copy data to write to ramsink, only copied: ", copied)
	}
	this.m_log.Debug("ramsink write block ", block_number, " of ", len(data), " bytes, final: ", final)
	this.m_blocks[block_number] = d
	this.m_order = append(this.m_order, block_number)
	this.m_finals = append(this.m_finals, final)
	return nil
}

func (this *Ramsink) Close() tools.Ret {
	this.m_open = false
	this.m_closes++
	return nil
}

/* Blocks hands back every block in the order it was written. */
func (this *Ramsink) Blocks() [][]byte {
	var out = make([][]byte, 0, len(this.m_order))
	for _, n := range this.m_order {
		out = append(out, this.m_blocks[n])
	}
	return out
}

func (this *Ramsink) Order() []uint64 {
	return this.m_order
}

func (this *Ramsink) Finals() []bool {
	return this.m_finals
}

func (this *Ramsink) Is_open() bool {
	return this.m_open
}

func (this *Ramsink) Opens() int {
	return this.m_opens
}

func (this *Ramsink) Closes() int {
	return this.m_closes
}

func (this *Ramsink) Block_size() uint32 {
	return this.m_block_size
}
