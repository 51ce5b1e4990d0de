// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketNumberIsLittleEndian(t *testing.T) {
	assert.Equal(t, u16(0x1234), Packet_number([]byte{0x34, 0x12, 0xAA}))
	assert.True(t, Is_end_packet(0x7FFF))
	assert.True(t, Is_end_packet(0xFFFF))
	assert.False(t, Is_end_packet(0x7FFE))
	assert.Equal(t, 0, Packet_stream(0x0005))
	assert.Equal(t, 1, Packet_stream(0x8005))
}

func TestNextPacketWrapsPastZero(t *testing.T) {
	assert.Equal(t, u16(1), Next_packet(0))
	assert.Equal(t, u16(0x7FFE), Next_packet(0x7FFD))
	assert.Equal(t, u16(1), Next_packet(0x7FFE))
	assert.Equal(t, u16(3), Next_packet(0x8002))
}

func TestTrackerFollowsEachStream(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var tr = New_packet_tracker(log)

	for _, p := range []u16{0x7FFC, 0x7FFD, 0x7FFE, 0x0001, 0x8010, 0x0002, 0x8011} {
		var ret, ended = tr.Observe(p)
		require.Nil(t, ret, "packet %04x", p)
		assert.False(t, ended)
	}
	var seen, cursor = tr.Cursor(0)
	assert.True(t, seen)
	assert.Equal(t, u16(2), cursor)
	seen, cursor = tr.Cursor(1)
	assert.True(t, seen)
	assert.Equal(t, u16(0x11), cursor)
	seen, _ = tr.Cursor(2)
	assert.False(t, seen)

	var ret, ended = tr.Observe(0x7FFF)
	require.Nil(t, ret)
	assert.True(t, ended)
	assert.True(t, tr.Ended())
	assert.Equal(t, uint64(8), tr.Count())
	assert.Equal(t, u16(0x7FFF), tr.Last())
}

func TestTrackerRejectsGapsAndRepeats(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	for _, seq := range [][]u16{{0, 2}, {5, 5}, {0x7FFE, 0}, {3, 2}} {
		var tr = New_packet_tracker(log)
		var ret, _ = tr.Observe(seq[0])
		require.Nil(t, ret)
		ret, _ = tr.Observe(seq[1])
		require.NotNil(t, ret, "%v", seq)
		assert.True(t, Is_protocol_sequence_error(ret))
	}
}

func TestEndPacketOnEitherStreamEnds(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var tr = New_packet_tracker(log)
	var ret, ended = tr.Observe(0xFFFF)
	require.Nil(t, ret)
	assert.True(t, ended)
}
