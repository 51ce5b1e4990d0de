// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Package crcpipe is a data pipeline element that keeps a running crc of every block on its
   way to the sink, so an acquisition can be checked against a copy made some other way.
   It doesn't change the data. */
package crcpipe

import (
	"fmt"
	"hash/crc32"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const CRC_POLY_FLAG string = "crc-poly"

var _ seqacquireinterfaces.Data_pipeline_element = &Crc_pipe{}
var _ seqacquireinterfaces.Data_pipeline_element_context = &Crc_context{}

type Crc_context struct {
	m_crc    uint32
	m_blocks uint64
	m_bytes  uint64
}

func (this *Crc_context) Create() tools.Ret {
	this.m_crc = 0
	this.m_blocks = 0
	this.m_bytes = 0
	return nil
}

func (this *Crc_context) Get_context() seqacquireinterfaces.Data_pipeline_element_context {
	return this
}

type Crc_pipe struct {
	m_log        *tools.Nixomosetools_logger
	m_poly_name  string
	m_table      *crc32.Table
	m_context    *Crc_context
	m_block_size uint32
}

func New_crc_pipe(log *tools.Nixomosetools_logger) *Crc_pipe {
	var c Crc_pipe
	c.m_log = log
	c.m_poly_name = "ieee"
	c.m_table = crc32.IEEETable
	c.m_context = &Crc_context{}
	return &c
}

/* Add_flags puts the flag Process_parameters looks for on cmd. */
func Add_flags(flags *pflag.FlagSet) {
	flags.String(CRC_POLY_FLAG, "ieee", "crc polynomial for crc=1: ieee, castagnoli or koopman")
}

func (this *Crc_pipe) Process_parameters(params *cobra.Command) tools.Ret {
	var flags *pflag.FlagSet = params.Flags()
	if flags.Lookup(CRC_POLY_FLAG) == nil {
		return nil
	}
	var name, err = flags.GetString(CRC_POLY_FLAG)
	if err != nil {
		return tools.Error(this.m_log, "unable to read ", CRC_POLY_FLAG, ": ", err)
	}
	switch name {
	case "ieee":
		this.m_table = crc32.IEEETable
	case "castagnoli":
		this.m_table = crc32.MakeTable(crc32.Castagnoli)
	case "koopman":
		this.m_table = crc32.MakeTable(crc32.Koopman)
	default:
		return tools.Error(this.m_log, "unknown crc polynomial: ", name)
	}
	this.m_poly_name = name
	return nil
}

func (this *Crc_pipe) Process_device(device seqacquireinterfaces.Session_device) tools.Ret {
	this.m_block_size = device.Get_block_size_in_bytes()
	this.m_log.Debug("crc ", this.m_poly_name, " over blocks of ", this.m_block_size, " bytes, ",
		device.Get_pool_size(), " transfer buffers")
	return nil
}

func (this *Crc_pipe) Pipe_in(data_in_out *[]byte) tools.Ret {
	var data = *data_in_out
	this.m_context.m_crc = crc32.Update(this.m_context.m_crc, this.m_table, data)
	this.m_context.m_blocks++
	this.m_context.m_bytes += uint64(len(data))
	return nil
}

func (this *Crc_pipe) Get_context() seqacquireinterfaces.Data_pipeline_element_context {
	return this.m_context
}

func (this *Crc_pipe) Set_context(ctx seqacquireinterfaces.Data_pipeline_element_context) {
	if c, ok := ctx.(*Crc_context); ok {
		this.m_context = c
	}
}

func (this *Crc_pipe) Sum() uint32 {
	return this.m_context.m_crc
}

func (this *Crc_pipe) Blocks() uint64 {
	return this.m_context.m_blocks
}

func (this *Crc_pipe) Bytes() uint64 {
	return this.m_context.m_bytes
}

func (this *Crc_pipe) String() string {
	return fmt.Sprintf("crc32 (%s) %08x over %d blocks, %d bytes", this.m_poly_name, this.Sum(), this.Blocks(), this.Bytes())
}
