// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMemoryStaysUnderTheBusLimit(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory(log)
	var ret, a, da = mem.Alloc(100)
	require.Nil(t, ret)
	assert.Len(t, da, 100)
	assert.NotEqual(t, uint32(0), a)
	var b uint32
	ret, b, _ = mem.Alloc(100)
	require.Nil(t, ret)
	assert.True(t, b >= a+100)
	assert.Less(t, b+100, HOST_ADDRESS_LIMIT)

	require.Nil(t, mem.Write(a+10, []byte{1, 2, 3}))
	var got = make([]byte, 3)
	require.Nil(t, mem.Read(a+10, got))
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Equal(t, byte(2), da[11])

	assert.NotNil(t, mem.Write(a+98, []byte{1, 2, 3}))
	assert.NotNil(t, mem.Read(0, got))

	ret, _, _ = mem.Alloc(int(HOST_ADDRESS_LIMIT))
	assert.NotNil(t, ret)
	ret, _, _ = mem.Alloc(0)
	assert.NotNil(t, ret)

	var shrunk []byte
	ret, shrunk = mem.Shrink(a, 20)
	require.Nil(t, ret)
	assert.Len(t, shrunk, 20)
	assert.Equal(t, byte(3), shrunk[12])
	assert.Equal(t, uint64(120), mem.Bytes_in_use())
	assert.NotNil(t, mem.Read(a+19, got))

	require.Nil(t, mem.Free(a))
	assert.NotNil(t, mem.Free(a))
	require.Nil(t, mem.Free(b))
	assert.Equal(t, 0, mem.Region_count())
	assert.Equal(t, uint64(0), mem.Bytes_in_use())
}

func TestPoolTakesWhatItCanGet(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory_with_limit(log, 0x1000+3*1024+512)
	var ret, pool = New_transfer_pool(log, mem, 10, 1024)
	require.Nil(t, ret)
	assert.Equal(t, 3, pool.Count())
	pool.Release()
	assert.Equal(t, 0, mem.Region_count())

	ret, _ = New_transfer_pool(log, mem, 10, 8192)
	require.NotNil(t, ret)
	assert.Equal(t, E_OUT_OF_MEMORY, ret.Get_errcode())
}

func TestPoolCyclesInOrder(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory(log)
	var ret, pool = New_transfer_pool(log, mem, 3, 64)
	require.Nil(t, ret)
	defer pool.Release()

	var first *Transfer_buffer
	ret, first = pool.Begin_fill()
	require.Nil(t, ret)
	assert.Equal(t, BUFFER_FILLING, pool.State(0))
	pool.Start_after_first()
	assert.Equal(t, BUFFER_FULL, pool.State(0))
	assert.True(t, pool.Has_full())
	assert.True(t, pool.Has_free())
	var in, out = pool.Cursors()
	assert.Equal(t, 1, in)
	assert.Equal(t, 0, out)

	/* fill the rest, then the pool is full */
	for lp := 0; lp < 2; lp++ {
		var b *Transfer_buffer
		ret, b = pool.Begin_fill()
		require.Nil(t, ret)
		assert.NotEqual(t, first.Addr, b.Addr)
		require.Nil(t, pool.End_fill())
	}
	assert.False(t, pool.Has_free())
	assert.Equal(t, 3, pool.Blocks_full())
	ret, _ = pool.Begin_fill()
	assert.NotNil(t, ret)

	/* drain in the order they were filled */
	var b *Transfer_buffer
	ret, b = pool.Begin_drain()
	require.Nil(t, ret)
	assert.Equal(t, first.Addr, b.Addr)
	assert.Len(t, pool.Block(b), 64)
	require.Nil(t, pool.End_drain())
	assert.True(t, pool.Has_free())
	assert.NotNil(t, pool.End_drain())

	/* a discarded fill doesn't count */
	ret, _ = pool.Begin_fill()
	require.Nil(t, ret)
	require.Nil(t, pool.Discard_fill())
	assert.Equal(t, 2, pool.Blocks_full())
	assert.NotNil(t, pool.End_fill())
}

func TestResizeKeepsTheFirstBlock(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory(log)
	var ret, pool = New_transfer_pool(log, mem, 4, 65536)
	require.Nil(t, ret)
	defer pool.Release()

	var b *Transfer_buffer
	ret, b = pool.Begin_fill()
	require.Nil(t, ret)
	var addr = b.Addr
	for lp := 0; lp < 16384; lp++ {
		b.Data[lp] = byte(lp * 3)
	}

	require.Nil(t, pool.Resize_keeping_first(16384))
	assert.Equal(t, uint32(16384), pool.Block_size())
	assert.Equal(t, 4, pool.Count())
	assert.Equal(t, 1, pool.Resizes())
	assert.Equal(t, uint64(4*16384), mem.Bytes_in_use())

	pool.Start_after_first()
	ret, b = pool.Begin_drain()
	require.Nil(t, ret)
	assert.Equal(t, addr, b.Addr)
	var block = pool.Block(b)
	require.Len(t, block, 16384)
	for lp := 0; lp < 16384; lp++ {
		if block[lp] != byte(lp*3) {
			t.Fatalf("first block changed at byte %d", lp)
		}
	}

	assert.NotNil(t, pool.Resize_keeping_first(32768))
	assert.NotNil(t, pool.Resize_keeping_first(0))
	assert.Equal(t, 1, pool.Resizes())
}
