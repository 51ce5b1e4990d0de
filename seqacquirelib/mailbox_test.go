// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"sync"
	"syscall"
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fake_doorbell struct {
	m_log   *tools.Nixomosetools_logger
	m_rings int
	m_fail  bool
}

func (this *fake_doorbell) Start_command() tools.Ret {
	this.m_rings++
	if this.m_fail {
		return tools.ErrorWithCode(this.m_log, E_ADAPTER_TIMEOUT, "doorbell stuck")
	}
	return nil
}

func new_ring(t *testing.T, slots int) (*tools.Nixomosetools_logger, *Host_memory, *fake_doorbell, *Mailbox_ring) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory(log)
	var bell = &fake_doorbell{m_log: log}
	var ret, ring = New_mailbox_ring(log, mem, bell, slots, nil)
	require.Nil(t, ret)
	return log, mem, bell, ring
}

func new_command(t *testing.T, log *tools.Nixomosetools_logger, mem *Host_memory) *Command {
	var ret, cmd = Build(log, mem, 7, 0, CCB_KIND_INITIATOR, SCSI_OP_TEST_READY, 0, 0, nil)
	require.Nil(t, ret)
	return cmd
}

/* adapter_takes plays the adapter picking a ccb out of an out slot and answering it in slot in. */
func adapter_takes(t *testing.T, mem *Host_memory, ring *Mailbox_ring, cmd *Command, in int, flag u8, hastat u8) {
	var found bool = false
	for lp := 0; lp < ring.Get_slots(); lp++ {
		var ret, e = ring.read_entry(ring.out_addr(lp))
		require.Nil(t, ret)
		if e.Flag != MBO_FREE && Decode_addr(e.Addr) == cmd.m_ccb_addr {
			require.Nil(t, ring.write_entry(ring.out_addr(lp), mailbox_entry{Flag: MBO_FREE}))
			found = true
			break
		}
	}
	require.True(t, found)
	require.Nil(t, mem.Write(cmd.m_ccb_addr+uint32(CCB_OFFSET_HASTAT), []byte{hastat, TS_OK}))
	require.Nil(t, ring.write_entry(ring.in_addr(in), mailbox_entry{Flag: flag, Addr: Encode_addr(cmd.m_ccb_addr)}))
}

func TestRingGeometry(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory(log)
	var ret, _ = New_mailbox_ring(log, mem, &fake_doorbell{}, 0, nil)
	assert.NotNil(t, ret)
	ret, _ = New_mailbox_ring(log, mem, &fake_doorbell{}, 256, nil)
	assert.NotNil(t, ret)

	var ring *Mailbox_ring
	ret, ring = New_mailbox_ring(log, mem, &fake_doorbell{}, 4, nil)
	require.Nil(t, ret)
	assert.Equal(t, uint64(4*2*MAILBOX_ENTRY_SIZE), mem.Bytes_in_use())
	var out, in = ring.Slot_states()
	assert.Len(t, out, 4)
	assert.Len(t, in, 4)
	require.Nil(t, ring.Release())
	assert.Equal(t, 0, mem.Region_count())
}

func TestSubmitAndDeliver(t *testing.T) {
	var log, mem, bell, ring = new_ring(t, 2)
	var cmd = new_command(t, log, mem)

	require.Nil(t, ring.Submit(cmd, MBO_START))
	assert.Equal(t, 1, bell.m_rings)
	assert.Equal(t, 1, ring.Outstanding())
	var out, _ = ring.Slot_states()
	assert.Equal(t, MBO_START, out[0].Flag)
	assert.Equal(t, cmd.m_ccb_addr, out[0].Addr)

	adapter_takes(t, mem, ring, cmd, 1, MBI_COMPLETE, HS_NO_ERROR)
	assert.Equal(t, 1, ring.Deliver_completions())
	assert.True(t, cmd.Completion().Done)
	assert.Equal(t, MBI_COMPLETE, cmd.Completion().Mbi_flag)
	assert.Equal(t, HS_NO_ERROR, cmd.Completion().Host_status)
	assert.Equal(t, 0, ring.Outstanding())

	/* every slot is free again */
	var in []Slot_state
	out, in = ring.Slot_states()
	for lp := range out {
		assert.Equal(t, MBO_FREE, out[lp].Flag)
		assert.Equal(t, MBI_FREE, in[lp].Flag)
	}
	assert.Equal(t, 0, ring.Deliver_completions())
}

func TestCcbRequestIsDrainedWithoutCompletingAnything(t *testing.T) {
	var log, mem, _, ring = new_ring(t, 2)
	var cmd = new_command(t, log, mem)
	require.Nil(t, ring.Submit(cmd, MBO_START))

	require.Nil(t, ring.write_entry(ring.in_addr(0), mailbox_entry{Flag: MBI_CCB_REQ, Addr: Encode_addr(cmd.m_ccb_addr)}))
	assert.Equal(t, 0, ring.Deliver_completions())
	assert.False(t, cmd.Completion().Done)
	assert.Equal(t, 1, ring.Outstanding())
	var _, in = ring.Slot_states()
	assert.Equal(t, MBI_FREE, in[0].Flag)
}

func TestNoFreeSlotLeavesTheRingAlone(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory(log)
	var bell = &fake_doorbell{m_log: log}
	var pauses int = 0
	var ret, ring = New_mailbox_ring(log, mem, bell, 2, func() tools.Ret {
		pauses++
		return nil
	})
	require.Nil(t, ret)
	ring.Set_scan_tries(3)

	var a = new_command(t, log, mem)
	var b = new_command(t, log, mem)
	var c = new_command(t, log, mem)
	require.Nil(t, ring.Submit(a, MBO_START))
	require.Nil(t, ring.Submit(b, MBO_START))
	var before, _ = ring.Slot_states()

	ret = ring.Submit(c, MBO_START)
	require.NotNil(t, ret)
	assert.True(t, Is_no_free_slot(ret))
	assert.Equal(t, -int(syscall.EBUSY), ret.Get_errcode())
	assert.Equal(t, 3, pauses)
	assert.Equal(t, 2, bell.m_rings)
	assert.Equal(t, 2, ring.Outstanding())
	var after, _ = ring.Slot_states()
	assert.Equal(t, before, after)

	/* once the adapter takes one there is room */
	adapter_takes(t, mem, ring, a, 0, MBI_COMPLETE, HS_NO_ERROR)
	require.Nil(t, ring.Submit(c, MBO_START))
}

func TestPauseErrorStopsTheScan(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = New_host_memory(log)
	var ret, ring = New_mailbox_ring(log, mem, &fake_doorbell{}, 1, func() tools.Ret {
		return tools.ErrorWithCode(log, E_ABORTED, "stop")
	})
	require.Nil(t, ret)
	require.Nil(t, ring.Submit(new_command(t, log, mem), MBO_START))
	ret = ring.Submit(new_command(t, log, mem), MBO_START)
	assert.True(t, Is_abort(ret))
}

func TestDoorbellFailureTakesTheSlotBack(t *testing.T) {
	var log, mem, bell, ring = new_ring(t, 2)
	var cmd = new_command(t, log, mem)
	bell.m_fail = true
	var ret = ring.Submit(cmd, MBO_START)
	require.NotNil(t, ret)
	assert.True(t, Is_timeout(ret))
	assert.Equal(t, 0, ring.Outstanding())
	var out, _ = ring.Slot_states()
	for _, s := range out {
		assert.Equal(t, MBO_FREE, s.Flag)
	}

	assert.NotNil(t, ring.Submit(cmd, 0x77))
}

func TestAbortIsDeliveredToTheStartedCommand(t *testing.T) {
	var log, mem, _, ring = new_ring(t, 2)
	var cmd = new_command(t, log, mem)
	require.Nil(t, ring.Submit(cmd, MBO_START))
	adapter_takes(t, mem, ring, cmd, 0, MBI_COMPLETE, HS_NO_ERROR)
	ring.Reset()
	assert.Equal(t, 0, ring.Outstanding())

	require.Nil(t, cmd.Reinit())
	require.Nil(t, ring.Submit(cmd, MBO_START))
	require.Nil(t, ring.Submit(cmd, MBO_ABORT))
	assert.Equal(t, 1, ring.Outstanding())
	adapter_takes(t, mem, ring, cmd, 1, MBI_ABORTED, HS_NO_ERROR)
	assert.Equal(t, 1, ring.Deliver_completions())
	assert.Equal(t, MBI_ABORTED, cmd.Completion().Mbi_flag)
}

func TestConcurrentDeliveryCompletesEachCommandOnce(t *testing.T) {
	var log, mem, _, ring = new_ring(t, 8)
	var cmds = make([]*Command, 8)
	for lp := range cmds {
		cmds[lp] = new_command(t, log, mem)
		require.Nil(t, ring.Submit(cmds[lp], MBO_START))
	}
	for lp, cmd := range cmds {
		adapter_takes(t, mem, ring, cmd, lp, MBI_COMPLETE, HS_NO_ERROR)
	}

	var wg sync.WaitGroup
	var total = make(chan int, 4)
	for lp := 0; lp < 4; lp++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total <- ring.Deliver_completions()
		}()
	}
	wg.Wait()
	close(total)
	var sum int = 0
	for n := range total {
		sum += n
	}
	assert.Equal(t, 8, sum)
	for _, cmd := range cmds {
		assert.True(t, cmd.Completion().Done)
	}
	assert.Equal(t, 0, ring.Outstanding())
}
