// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package sink

import (
	"os"
	"syscall"

	"github.com/ncw/directio"
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
	"golang.org/x/sys/unix"
)

var _ seqacquireinterfaces.Sink_mechanism = &Filesink{}
var _ seqacquireinterfaces.Sink_mechanism = (*Filesink)(nil)

const DEFAULT_CHUNK_SIZE int = 31 * 1024 // some platforms won't take a bigger single write

const output_filemode os.FileMode = 0666

type Filesink struct {
	/* the acquired blocks go to a file one after the other, written in chunks no bigger than
	   m_chunk. with m_direct the page cache is bypassed, which needs aligned buffers and aligned
	   lengths, so blocks are staged through an aligned buffer and whatever doesn't fill a whole
	   disk block at the end is written the normal way on close. */

	m_log    *tools.Nixomosetools_logger
	m_path   string
	m_chunk  int
	m_direct bool
	m_file   *os.File

	m_stage       []byte
	m_stage_used  int
	m_bytes_out   uint64
	m_blocks_out  uint64
	m_final_block bool
}

func New_filesink(log *tools.Nixomosetools_logger, path string, chunk int, direct bool) *Filesink {
	var f Filesink
	f.m_log = log
	f.m_path = path
	if chunk <= 0 {
		chunk = DEFAULT_CHUNK_SIZE
	}
	if direct {
		/* round up to a whole number of disk blocks */
		chunk = (chunk + directio.BlockSize - 1) / directio.BlockSize * directio.BlockSize
	}
	f.m_chunk = chunk
	f.m_direct = direct
	return &f
}

func (this *Filesink) Open() tools.Ret {
	var err error
	var flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if this.m_direct {
		this.m_file, err = directio.OpenFile(this.m_path, flags, output_filemode)
		this.m_stage = directio.AlignedBlock(this.m_chunk)
		this.m_stage_used = 0
	} else {
		this.m_file, err = os.OpenFile(this.m_path, flags, output_filemode)
	}
	if err != nil {
		this.m_file = nil
		return tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "unable to open output file ", this.m_path, ", err: ", err)
	}
	this.m_bytes_out = 0
	this.m_blocks_out = 0
	return nil
}

func (this *Filesink) write_all(data []byte) tools.Ret {
	for len(data) > 0 {
		var n = tools.Minint(len(data), this.m_chunk)
		var written, err = this.m_file.Write(data[:n])
		if err != nil {
			return tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "error writing to ", this.m_path, ", err: ", err)
		}
		if written != n {
			return tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "short write to ", this.m_path, ", wrote ", written, " of ", n)
		}
		this.m_bytes_out += uint64(written)
		data = data[n:]
	}
	return nil
}

func (this *Filesink) write_staged(data []byte) tools.Ret {
	for len(data) > 0 {
		var copied = copy(this.m_stage[this.m_stage_used:], data)
		this.m_stage_used += copied
		data = data[copied:]
		if this.m_stage_used == len(this.m_stage) {
			if ret := this.write_all(this.m_stage); ret != nil {
				return ret
			}
			this.m_stage_used = 0
		}
	}
	return nil
}

func (this *Filesink) Write_block(block_number uint64, data []byte, final bool) tools.Ret {
	if this.m_file == nil {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EBADF), "output file ", this.m_path, " is not open")
	}
	var ret tools.Ret
	if this.m_direct {
		ret = this.write_staged(data)
	} else {
		ret = this.write_all(data)
	}
	if ret != nil {
		return ret
	}
	this.m_blocks_out++
	this.m_final_block = final
	return nil
}

/* flush_tail writes what's left in the stage. whole disk blocks can still go direct, the rest
   goes through a normal descriptor opened for append. */
func (this *Filesink) flush_tail() tools.Ret {
	if this.m_stage_used == 0 {
		return nil
	}
	var aligned = this.m_stage_used / directio.BlockSize * directio.BlockSize
	if aligned > 0 {
		if ret := this.write_all(this.m_stage[:aligned]); ret != nil {
			return ret
		}
	}
	var tail = this.m_stage[aligned:this.m_stage_used]
	this.m_stage_used = 0
	if len(tail) == 0 {
		return nil
	}
	var err = this.m_file.Close()
	this.m_file = nil
	if err != nil {
		return tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "error closing direct output ", this.m_path, ", err: ", err)
	}
	this.m_file, err = os.OpenFile(this.m_path, os.O_WRONLY|os.O_APPEND, output_filemode)
	if err != nil {
		this.m_file = nil
		return tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "unable to reopen ", this.m_path, " for the tail, err: ", err)
	}
	return this.write_all(tail)
}

func (this *Filesink) Close() tools.Ret {
	if this.m_file == nil {
		return nil
	}
	var ret tools.Ret
	if this.m_direct {
		ret = this.flush_tail()
	}
	if this.m_file != nil {
		if err := unix.Fdatasync(int(this.m_file.Fd())); err != nil && ret == nil {
			ret = tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "unable to sync ", this.m_path, ", err: ", err)
		}
		if err := this.m_file.Close(); err != nil && ret == nil {
			ret = tools.ErrorWithCode(this.m_log, -int(syscall.EIO), "unable to close ", this.m_path, ", err: ", err)
		}
		this.m_file = nil
	}
	this.m_log.Debug("closed ", this.m_path, " after ", this.m_blocks_out, " blocks, ", this.m_bytes_out, " bytes")
	return ret
}

func (this *Filesink) Bytes_written() uint64 {
	return this.m_bytes_out
}

func (this *Filesink) Blocks_written() uint64 {
	return this.m_blocks_out
}

func (this *Filesink) Is_open() bool {
	return this.m_file != nil
}

/* Final_seen says whether the last block written was the end of the stream. */
func (this *Filesink) Final_seen() bool {
	return this.m_final_block
}
