// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package simscope

import (
	"testing"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptHelpers(t *testing.T) {
	assert.Equal(t, []uint16{0x8005, 0x8006, 0xFFFF}, Sequence_packets(3, 5, 0x8000))
	assert.Empty(t, Sequence_packets(0, 0, 0))

	var b = Block_payload(3, 0x1234, 8)
	assert.Equal(t, []byte{0x34, 0x12, 23, 24, 25, 26, 27, 28}, b)
	assert.Equal(t, uint16(0x1234), seqacquirelib.Packet_number(b))
}

func TestResetShowsSelfTestThenIdle(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var sim = New_sim_adapter(log, seqacquirelib.New_host_memory(log), Default_script(nil, 512))
	sim.Write_port(seqacquirelib.AHA_PORT_CTRL, seqacquirelib.AHA_CTRL_HRST)
	for lp := 0; lp < 3; lp++ {
		assert.Equal(t, seqacquirelib.AHA_STAT_STST, sim.Read_port(seqacquirelib.AHA_PORT_STAT))
	}
	assert.Equal(t, seqacquirelib.AHA_STAT_IDLE|seqacquirelib.AHA_STAT_INIT, sim.Read_port(seqacquirelib.AHA_PORT_STAT))
	assert.Equal(t, 1, sim.Hard_resets())

	/* a rejected opcode shows invalid command and goes straight back to idle */
	sim.Write_port(seqacquirelib.AHA_PORT_DATA, 0x55)
	var st = sim.Read_port(seqacquirelib.AHA_PORT_STAT)
	assert.NotZero(t, st&seqacquirelib.AHA_STAT_INVC)
	assert.NotZero(t, st&seqacquirelib.AHA_STAT_IDLE)
	assert.NotZero(t, sim.Read_port(seqacquirelib.AHA_PORT_IFLG)&seqacquirelib.AHA_IFLG_HACC)
}

func TestAsyncCompletionComesInThroughTheInterrupt(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = seqacquirelib.New_host_memory(log)
	var packets = Sequence_packets(3, 0, 0)
	var sim = New_sim_adapter(log, mem, Default_script(packets, 2048))
	var adapter = seqacquirelib.New_aha_adapter(log, sim, sim, nil, 0)
	var ret, scsi = seqacquirelib.New_scsi(log, mem, adapter, 2)
	require.Nil(t, ret)
	defer scsi.Release()

	sim.Start_async()
	defer sim.Stop()
	ret, _ = scsi.Setup()
	require.Nil(t, ret)
	defer scsi.Shutdown()

	var addr uint32
	var data []byte
	ret, addr, data = mem.Alloc(2048)
	require.Nil(t, ret)
	defer mem.Free(addr)

	var cmd *seqacquirelib.Command
	ret, cmd = scsi.Submit_read(7, addr, 2048)
	require.Nil(t, ret)
	defer cmd.Release()

	/* nobody polls, the interrupt has to deliver it */
	require.Eventually(t, func() bool { return cmd.Completion().Done }, 5*time.Second, time.Millisecond)
	assert.Equal(t, seqacquirelib.MBI_COMPLETE, cmd.Completion().Mbi_flag)
	var got = make([]byte, 2048)
	require.Nil(t, mem.Read(addr, got))
	assert.Equal(t, Block_payload(0, packets[0], 2048), got)
	assert.Equal(t, got, data)
	assert.Equal(t, 1, sim.Blocks_sent())
}

func TestStalledReadWaitsForTheNextReset(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = seqacquirelib.New_host_memory(log)
	var script = Default_script(Sequence_packets(3, 0, 0), 512)
	script.Stall_block = 0
	var sim = New_sim_adapter(log, mem, script)
	var adapter = seqacquirelib.New_aha_adapter(log, sim, sim, nil, 0)
	var ret, scsi = seqacquirelib.New_scsi(log, mem, adapter, 2)
	require.Nil(t, ret)
	defer scsi.Release()
	ret, _ = scsi.Setup()
	require.Nil(t, ret)

	var addr uint32
	ret, addr, _ = mem.Alloc(512)
	require.Nil(t, ret)
	var cmd *seqacquirelib.Command
	ret, cmd = scsi.Submit_read(7, addr, 512)
	require.Nil(t, ret)
	assert.Equal(t, seqacquirelib.POLL_PENDING, scsi.Poll(cmd).Kind)
	assert.Equal(t, 1, sim.Reads_started())

	/* after a re-setup the same read is asked for again, and stalls again */
	ret, _ = scsi.Setup()
	require.Nil(t, ret)
	require.Nil(t, scsi.Resubmit(cmd))
	assert.Equal(t, seqacquirelib.POLL_PENDING, scsi.Poll(cmd).Kind)
	assert.Equal(t, 2, sim.Reads_started())
	assert.Equal(t, 0, sim.Blocks_sent())
	scsi.Shutdown()
	cmd.Release()
}

func TestAbortingAStalledRead(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = seqacquirelib.New_host_memory(log)
	var script = Default_script(Sequence_packets(3, 0, 0), 512)
	script.Stall_block = 0
	var sim = New_sim_adapter(log, mem, script)
	var adapter = seqacquirelib.New_aha_adapter(log, sim, sim, nil, 0)
	var ret, scsi = seqacquirelib.New_scsi(log, mem, adapter, 2)
	require.Nil(t, ret)
	defer scsi.Release()

	var addr uint32
	ret, addr, _ = mem.Alloc(512)
	require.Nil(t, ret)
	defer mem.Free(addr)

	var cmd *seqacquirelib.Command
	ret, cmd = seqacquirelib.Build(log, mem, 7, seqacquirelib.TARGET_LUN, seqacquirelib.CCB_KIND_TARGET,
		seqacquirelib.SCSI_OP_SEND, addr, 512, nil)
	require.Nil(t, ret)
	/* nothing to abort on a board that was never set up */
	assert.NotNil(t, scsi.Abort(cmd))
	require.Nil(t, cmd.Release())

	ret, _ = scsi.Setup()
	require.Nil(t, ret)
	defer scsi.Shutdown()
	ret, cmd = scsi.Submit_read(7, addr, 512)
	require.Nil(t, ret)
	defer cmd.Release()
	assert.Equal(t, seqacquirelib.POLL_PENDING, scsi.Poll(cmd).Kind)

	require.Nil(t, scsi.Abort(cmd))
	var ps = scsi.Poll(cmd)
	assert.Equal(t, seqacquirelib.POLL_ERROR, ps.Kind)
	assert.Equal(t, seqacquirelib.MBI_ABORTED, ps.Mbi_flag)
	assert.True(t, cmd.Completion().Done)
	assert.Equal(t, seqacquirelib.MBI_ABORTED, cmd.Completion().Mbi_flag)
	assert.Equal(t, 0, sim.Blocks_sent())
}
