// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* host memory as the adapter sees it. The adapter only has 24 address lines, so everything it
   touches (the mailbox array, every ccb, every transfer buffer) has to be given a 3 byte bus
   address, and all of it has to fit under 16 megs.
   Both sides go through Read and Write, which take the bus lock, that's the one
   synchronization point between the host goroutine and whatever is doing the dma. The
   backing slices returned by Alloc may be read directly by the host once a completion for
   the region has been observed. */

package seqacquirelib

import (
	"sort"
	"sync"
	"syscall"

	"github.com/ncw/directio"
	"github.com/nixomose/nixomosegotools/tools"
)

const host_memory_base uint32 = 0x1000 // leave the bottom page unmapped so address zero is never valid
const host_memory_align uint32 = 16

type host_region struct {
	base uint32
	data []byte
}

type Host_memory struct {
	m_log     *tools.Nixomosetools_logger
	m_lock    sync.Mutex
	m_limit   uint32
	m_regions []host_region // sorted by base
	m_in_use  uint64
}

func New_host_memory(log *tools.Nixomosetools_logger) *Host_memory {
	return New_host_memory_with_limit(log, HOST_ADDRESS_LIMIT)
}

/* the limit is mostly for tests that want to see what happens when the pool can't all fit. */
func New_host_memory_with_limit(log *tools.Nixomosetools_logger, limit uint32) *Host_memory {
	var h Host_memory
	h.m_log = log
	if limit > HOST_ADDRESS_LIMIT {
		limit = HOST_ADDRESS_LIMIT
	}
	h.m_limit = limit
	h.m_regions = make([]host_region, 0)
	return &h
}

func align_up(v uint64, a uint64) uint64 {
	return (v + a - 1) / a * a
}

/* first fit over the gaps between existing regions. */
func (this *Host_memory) find_gap(size uint32) (bool, uint32) {
	var candidate uint64 = uint64(host_memory_base)
	for _, r := range this.m_regions {
		if candidate+uint64(size) <= uint64(r.base) {
			return true, uint32(candidate)
		}
		candidate = align_up(uint64(r.base)+uint64(len(r.data)), uint64(host_memory_align))
	}
	if candidate+uint64(size) <= uint64(this.m_limit) {
		return true, uint32(candidate)
	}
	return false, 0
}

func (this *Host_memory) Alloc(size int) (tools.Ret, uint32, []byte) {
	if size <= 0 {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EINVAL), "invalid host memory allocation size: ", size), 0, nil
	}
	if uint64(size) >= uint64(this.m_limit) {
		return tools.ErrorWithCode(this.m_log, E_OUT_OF_MEMORY, "host memory allocation of ", size,
			" bytes can never fit in the adapter's address space"), 0, nil
	}

	this.m_lock.Lock()
	defer this.m_lock.Unlock()

	var found, base = this.find_gap(uint32(size))
	if found == false {
		return tools.ErrorWithCode(this.m_log, E_OUT_OF_MEMORY, "out of adapter addressable host memory, wanted ", size,
			" bytes, in use: ", this.m_in_use), 0, nil
	}

	var data []byte = directio.AlignedBlock(size)
	var pos = sort.Search(len(this.m_regions), func(i int) bool { return this.m_regions[i].base > base })
	this.m_regions = append(this.m_regions, host_region{})
	copy(this.m_regions[pos+1:], this.m_regions[pos:])
	this.m_regions[pos] = host_region{base: base, data: data}
	this.m_in_use += uint64(size)
	return nil, base, data
}

func (this *Host_memory) Free(addr uint32) tools.Ret {
	this.m_lock.Lock()
	defer this.m_lock.Unlock()
	var pos = sort.Search(len(this.m_regions), func(i int) bool { return this.m_regions[i].base >= addr })
	if pos == len(this.m_regions) || this.m_regions[pos].base != addr {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EFAULT), "free of host memory address that was never allocated: ", addr)
	}
	this.m_in_use -= uint64(len(this.m_regions[pos].data))
	this.m_regions = append(this.m_regions[:pos], this.m_regions[pos+1:]...)
	return nil
}

// must be called with the lock held.
func (this *Host_memory) locate(addr uint32, length int) (tools.Ret, []byte) {
	var pos = sort.Search(len(this.m_regions), func(i int) bool { return this.m_regions[i].base > addr })
	if pos == 0 {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EFAULT), "bus address ", addr, " is not mapped"), nil
	}
	var r = this.m_regions[pos-1]
	var offset = uint64(addr - r.base)
	if offset+uint64(length) > uint64(len(r.data)) {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EFAULT), "bus access at ", addr, " for ", length,
			" bytes runs off the end of the region at ", r.base, " of ", len(r.data), " bytes"), nil
	}
	return nil, r.data[offset : offset+uint64(length)]
}

func (this *Host_memory) Read(addr uint32, buf []byte) tools.Ret {
	this.m_lock.Lock()
	defer this.m_lock.Unlock()
	var ret, mem = this.locate(addr, len(buf))
	if ret != nil {
		return ret
	}
	copy(buf, mem)
	return nil
}

func (this *Host_memory) Write(addr uint32, data []byte) tools.Ret {
	this.m_lock.Lock()
	defer this.m_lock.Unlock()
	var ret, mem = this.locate(addr, len(data))
	if ret != nil {
		return ret
	}
	copy(mem, data)
	return nil
}

func (this *Host_memory) Bytes_in_use() uint64 {
	this.m_lock.Lock()
	defer this.m_lock.Unlock()
	return this.m_in_use
}

func (this *Host_memory) Region_count() int {
	this.m_lock.Lock()
	defer this.m_lock.Unlock()
	return len(this.m_regions)
}

/* Shrink cuts a region down in place, the first size bytes stay exactly where they were. */
func (this *Host_memory) Shrink(addr uint32, size int) (tools.Ret, []byte) {
	this.m_lock.Lock()
	defer this.m_lock.Unlock()
	var pos = sort.Search(len(this.m_regions), func(i int) bool { return this.m_regions[i].base >= addr })
	if pos == len(this.m_regions) || this.m_regions[pos].base != addr {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EFAULT), "shrink of host memory address that was never allocated: ", addr), nil
	}
	var r = &this.m_regions[pos]
	if size <= 0 || size > len(r.data) {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EINVAL), "can not shrink host memory region of ", len(r.data),
			" bytes to ", size, " bytes"), nil
	}
	this.m_in_use -= uint64(len(r.data) - size)
	r.data = r.data[:size]
	return nil, r.data
}
