// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"encoding/binary"
	"fmt"

	"github.com/nixomose/nixomosegotools/tools"
)

/* every block the scope sends starts with a 16 bit little endian packet number. the top bit says
   which plugin it came from, the rest counts 0..0x7FFE and then wraps to 1. 0x7FFF is the last
   block of the stream. */

const PACKET_MASK u16 = 0x7FFF
const PACKET_STREAM_BIT u16 = 0x8000
const PACKET_END u16 = 0x7FFF
const PACKET_WRAP u16 = 0x7FFE

const PACKET_NUMBER_SIZE int = 2

func Packet_number(block []byte) u16 {
	if len(block) < PACKET_NUMBER_SIZE {
		return 0
	}
	return binary.LittleEndian.Uint16(block)
}

func Is_end_packet(p u16) bool {
	return (p & PACKET_MASK) == PACKET_END
}

func Packet_stream(p u16) int {
	return int(p >> 15)
}

func Next_packet(prev u16) u16 {
	prev &= PACKET_MASK
	if prev == PACKET_WRAP {
		return 1
	}
	return prev + 1
}

type Packet_tracker struct {
	m_log    *tools.Nixomosetools_logger
	m_seen   [2]bool
	m_cursor [2]u16
	m_last   u16
	m_count  uint64
	m_ended  bool
}

func New_packet_tracker(log *tools.Nixomosetools_logger) *Packet_tracker {
	var p Packet_tracker
	p.m_log = log
	return &p
}

/* Observe checks one packet number against what its stream should send next. The first packet
   seen on a stream sets that stream's cursor. Returns true once the end packet shows up. */
func (this *Packet_tracker) Observe(p u16) (tools.Ret, bool) {
	var stream = Packet_stream(p)
	var seq = p & PACKET_MASK
	this.m_last = p
	this.m_count++

	if seq == PACKET_END {
		this.m_ended = true
		return nil, true
	}
	if this.m_seen[stream] == false {
		this.m_seen[stream] = true
		this.m_cursor[stream] = seq
		return nil, false
	}
	var expected = Next_packet(this.m_cursor[stream])
	if seq != expected {
		return tools.ErrorWithCode(this.m_log, E_PROTOCOL_SEQUENCE, "packet out of sequence on stream ", stream,
			", expected ", fmt.Sprintf("%04x", expected), " got ", fmt.Sprintf("%04x", seq)), false
	}
	this.m_cursor[stream] = seq
	return nil, false
}

func (this *Packet_tracker) Ended() bool {
	return this.m_ended
}

func (this *Packet_tracker) Last() u16 {
	return this.m_last
}

func (this *Packet_tracker) Count() uint64 {
	return this.m_count
}

/* Cursor is the last in sequence packet number seen on stream, false if nothing has been. */
func (this *Packet_tracker) Cursor(stream int) (bool, u16) {
	if stream < 0 || stream > 1 {
		return false, 0
	}
	return this.m_seen[stream], this.m_cursor[stream]
}
