// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package simscope

import (
	"encoding/binary"

	"github.com/nixomose/seqacquire/seqacquirelib"
)

/* what the simulated scope and its adapter will do. the zero value of an index field means block
   zero, so use NO_BLOCK to turn one off. */

const NO_BLOCK int = -1

type Scope_script struct {
	Block_size uint32   // what the scope sends per block, no matter how much is asked for
	Packets    []uint16 // packet number of every block the scope has to send, in order

	Stall_block  int // this block never arrives, however many times it's asked for
	Error_block  int // this block fails with a phase error
	Absent       bool
	Target_sense uint16 // non zero makes test unit ready answer check condition with this sense

	/* adapter behaviour */
	Board_id            uint8
	Options             uint8
	Revision            [2]byte
	Config              [3]uint8 // dma bits, irq bits, scsi id
	Sync                [8]uint8
	Disconnect          uint8
	Diag_failure        bool
	No_init_after_reset bool
	Stuck_self_test     bool
	Reject_opcode       uint8 // answered with invalid command, zero rejects nothing
	Reset_status_reads  int   // status reads that still show self test in progress after a reset
}

func Default_script(packets []uint16, block_size uint32) Scope_script {
	return Scope_script{
		Block_size:         block_size,
		Packets:            packets,
		Stall_block:        NO_BLOCK,
		Error_block:        NO_BLOCK,
		Board_id:           0x41,
		Options:            0x53,
		Revision:           [2]byte{'3', '1'},
		Config:             [3]uint8{0x40, 0x04, 0x07},
		Sync:               [8]uint8{0x80 | 0x20 | 0x05, 0, 0, 0, 0, 0, 0, 0},
		Disconnect:         0x00,
		Reset_status_reads: 3,
	}
}

/* Sequence_packets makes count packet numbers for one stream the way the scope counts, starting
   at start and ending with the end packet. */
func Sequence_packets(count int, start uint16, stream uint16) []uint16 {
	var out = make([]uint16, 0, count)
	var p = start & seqacquirelib.PACKET_MASK
	for lp := 0; lp < count-1; lp++ {
		out = append(out, p|stream)
		p = seqacquirelib.Next_packet(p)
	}
	if count > 0 {
		out = append(out, seqacquirelib.PACKET_END|stream)
	}
	return out
}

/* Block_payload is exactly what the scope sends for block index, so tests can compare. */
func Block_payload(index int, packet uint16, size uint32) []byte {
	var b = make([]byte, size)
	for lp := 2; lp < int(size); lp++ {
		b[lp] = byte(index*7 + lp)
	}
	if size >= 2 {
		binary.LittleEndian.PutUint16(b, packet)
	}
	return b
}
