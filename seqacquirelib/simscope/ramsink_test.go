// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package simscope

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed_device struct{}

func (this fixed_device) Get_block_size_in_bytes() uint32 { return 512 }
func (this fixed_device) Get_pool_size() uint32           { return 4 }

func TestRamsinkRecordsOrderAndFinal(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var r = New_ramsink(log)
	require.NotNil(t, r.Write_block(0, []byte{1}, false))

	require.Nil(t, r.Open())
	require.Nil(t, r.Process_device(fixed_device{}))
	assert.Equal(t, uint32(512), r.Block_size())

	var data = []byte{1, 2, 3}
	require.Nil(t, r.Write_block(0, data, false))
	data[0] = 99
	require.Nil(t, r.Write_block(1, []byte{4, 5, 6}, true))
	require.Nil(t, r.Close())

	assert.Equal(t, [][]byte{{1, 2, 3}, {4, 5, 6}}, r.Blocks())
	assert.Equal(t, []uint64{0, 1}, r.Order())
	assert.Equal(t, []bool{false, true}, r.Finals())
	assert.Equal(t, 1, r.Opens())
	assert.Equal(t, 1, r.Closes())
	assert.False(t, r.Is_open())
}

func TestRamsinkRejectsDuplicatesAndScriptedFailure(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var r = New_ramsink(log)
	r.Fail_write_at(2)
	require.Nil(t, r.Open())
	require.Nil(t, r.Write_block(0, []byte{0}, false))
	require.NotNil(t, r.Write_block(0, []byte{0}, false))
	require.Nil(t, r.Write_block(1, []byte{1}, false))
	var ret = r.Write_block(2, []byte{2}, false)
	require.NotNil(t, ret)
	assert.Len(t, r.Blocks(), 2)
}
