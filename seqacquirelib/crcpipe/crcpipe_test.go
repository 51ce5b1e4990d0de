// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package crcpipe

import (
	"hash/crc32"
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed_device struct{}

func (this fixed_device) Get_block_size_in_bytes() uint32 { return 4 }
func (this fixed_device) Get_pool_size() uint32           { return 2 }

func TestCrcRunsOverEveryBlockUnchanged(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var c = New_crc_pipe(log)
	require.Nil(t, c.Get_context().Create())
	require.Nil(t, c.Process_device(fixed_device{}))

	var a = []byte{1, 2, 3, 4}
	var b = []byte{5, 6, 7, 8}
	require.Nil(t, c.Pipe_in(&a))
	require.Nil(t, c.Pipe_in(&b))

	assert.Equal(t, []byte{1, 2, 3, 4}, a)
	assert.Equal(t, crc32.ChecksumIEEE([]byte{1, 2, 3, 4, 5, 6, 7, 8}), c.Sum())
	assert.Equal(t, uint64(2), c.Blocks())
	assert.Equal(t, uint64(8), c.Bytes())

	require.Nil(t, c.Get_context().Create())
	assert.Equal(t, uint32(0), c.Sum())
}

func TestCrcPolynomialFromFlags(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var cmd = &cobra.Command{Use: "test"}
	Add_flags(cmd.Flags())
	require.NoError(t, cmd.Flags().Set(CRC_POLY_FLAG, "castagnoli"))

	var c = New_crc_pipe(log)
	require.Nil(t, c.Process_parameters(cmd))
	var data = []byte("sequence")
	require.Nil(t, c.Pipe_in(&data))
	assert.Equal(t, crc32.Checksum([]byte("sequence"), crc32.MakeTable(crc32.Castagnoli)), c.Sum())

	require.NoError(t, cmd.Flags().Set(CRC_POLY_FLAG, "nonsense"))
	assert.NotNil(t, c.Process_parameters(cmd))
}

func TestCrcWithoutFlagKeepsDefault(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var c = New_crc_pipe(log)
	require.Nil(t, c.Process_parameters(&cobra.Command{Use: "bare"}))
	var data = []byte("x")
	require.Nil(t, c.Pipe_in(&data))
	assert.Equal(t, crc32.ChecksumIEEE([]byte("x")), c.Sum())
}
