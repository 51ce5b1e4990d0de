// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib_test

import (
	"strings"
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib"
	"github.com/nixomose/seqacquire/seqacquirelib/simscope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func new_adapter(t *testing.T, script simscope.Scope_script) (*seqacquirelib.Host_memory, *simscope.Sim_adapter,
	*seqacquirelib.Aha_adapter) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = seqacquirelib.New_host_memory(log)
	var sim = simscope.New_sim_adapter(log, mem, script)
	var adapter = seqacquirelib.New_aha_adapter(log, sim, sim, nil, 3)
	adapter.Set_poll_limit(200)
	return mem, sim, adapter
}

func default_script() simscope.Scope_script {
	return simscope.Default_script(simscope.Sequence_packets(5, 0, 0), 512)
}

func TestAdapterInit(t *testing.T) {
	var mem, sim, adapter = new_adapter(t, default_script())
	var ret, base, _ = mem.Alloc(32)
	require.Nil(t, ret)

	var interrupts int = 0
	require.Nil(t, adapter.Init(4, base, func() { interrupts++ }))
	assert.Equal(t, 1, sim.Hard_resets())
	assert.Equal(t, 1, sim.Mailbox_inits())
	assert.Equal(t, uint8(3), sim.Speed())
	assert.False(t, sim.Masked())
	var on, mask = sim.Target_mode()
	assert.True(t, on)
	assert.Equal(t, uint8(1<<seqacquirelib.TARGET_LUN), mask)

	var cfg = adapter.Get_config()
	assert.Equal(t, 6, cfg.Dma_channel)
	assert.Equal(t, 11, cfg.Irq)
	assert.Equal(t, uint8(7), cfg.Scsi_id)
	assert.Contains(t, cfg.String(), "irq: 11")

	adapter.Shutdown()
	assert.True(t, sim.Masked())
	assert.Equal(t, 2, sim.Hard_resets())
	assert.Equal(t, 0, interrupts)
}

func TestAdapterInquiryAndSetup(t *testing.T) {
	var mem, _, adapter = new_adapter(t, default_script())
	var ret, base, _ = mem.Alloc(32)
	require.Nil(t, ret)
	require.Nil(t, adapter.Init(4, base, func() {}))

	var inq seqacquirelib.Adapter_inquiry
	ret, inq = adapter.Inquire()
	require.Nil(t, ret)
	assert.Equal(t, uint8(0x41), inq.Board_id)
	assert.Equal(t, "AHA-154XB", inq.Board_name)
	assert.Equal(t, uint8(0x53), inq.Options)
	assert.Equal(t, "3.1", inq.Revision)
	assert.Equal(t, inq, adapter.Get_inquiry())

	var setup seqacquirelib.Adapter_setup
	ret, setup = adapter.Return_setup_data()
	require.Nil(t, ret)
	assert.False(t, setup.Sync_transfer)
	assert.True(t, setup.Parity)
	assert.Equal(t, uint8(3), setup.Speed)
	assert.Equal(t, uint8(4), setup.Mailbox_count)
	assert.Equal(t, base, setup.Mailbox_addr)
	assert.True(t, setup.Sync[0].Valid)
	assert.Equal(t, 300, setup.Sync[0].Period_ns)
	assert.Equal(t, 5, setup.Sync[0].Offset)
	assert.False(t, setup.Sync[1].Valid)
	assert.True(t, setup.Disconnect_allowed[7])
	assert.Equal(t, 11, strings.Count(setup.String(), "\n"))

	require.Nil(t, adapter.Echo(0x5A))
	require.Nil(t, adapter.Set_selection_timeout(250))
	require.Nil(t, adapter.Set_bus_times(7, 4))
	require.Nil(t, adapter.Set_adapter_options(0x01))
	require.Nil(t, adapter.Enable_mailbox_out_interrupt(false))
	require.Nil(t, adapter.Soft_reset())
}

func TestAdapterResetFailures(t *testing.T) {
	var script = default_script()
	script.Diag_failure = true
	var _, _, adapter = new_adapter(t, script)
	var ret = adapter.Hard_reset()
	require.NotNil(t, ret)
	assert.Equal(t, seqacquirelib.E_ADAPTER_DIAGNOSTIC_FAILURE, ret.Get_errcode())

	script = default_script()
	script.No_init_after_reset = true
	_, _, adapter = new_adapter(t, script)
	ret = adapter.Hard_reset()
	require.NotNil(t, ret)
	assert.Equal(t, seqacquirelib.E_ADAPTER_UNEXPECTED, ret.Get_errcode())

	script = default_script()
	script.Stuck_self_test = true
	_, _, adapter = new_adapter(t, script)
	ret = adapter.Hard_reset()
	require.NotNil(t, ret)
	assert.True(t, seqacquirelib.Is_timeout(ret))
}

func TestAdapterRejectsConfigItDoesNotKnow(t *testing.T) {
	var script = default_script()
	script.Config = [3]uint8{0x03, 0x04, 0x07}
	var _, _, adapter = new_adapter(t, script)
	require.Nil(t, adapter.Hard_reset())
	var ret, _ = adapter.Return_config_data()
	require.NotNil(t, ret)
	assert.Equal(t, seqacquirelib.E_INVALID_CONFIG, ret.Get_errcode())

	script.Config = [3]uint8{0x40, 0x10, 0x07}
	_, _, adapter = new_adapter(t, script)
	require.Nil(t, adapter.Hard_reset())
	ret, _ = adapter.Return_config_data()
	require.NotNil(t, ret)
	assert.Equal(t, seqacquirelib.E_INVALID_CONFIG, ret.Get_errcode())
}

func TestAdapterInvalidCommand(t *testing.T) {
	var script = default_script()
	script.Reject_opcode = seqacquirelib.AHA_CMD_ADPT_DIAG
	var _, _, adapter = new_adapter(t, script)
	require.Nil(t, adapter.Hard_reset())

	var ret = adapter.Run_command(seqacquirelib.AHA_CMD_ADPT_DIAG)
	require.NotNil(t, ret)
	assert.True(t, seqacquirelib.Is_invalid_command(ret))

	ret = adapter.Run_command(0x55)
	assert.True(t, seqacquirelib.Is_invalid_command(ret))

	/* the adapter is still usable afterwards */
	require.Nil(t, adapter.Run_command(seqacquirelib.AHA_CMD_NO_OP))
	require.Nil(t, adapter.Echo(0xA5))
}

func TestAdapterTimesOutWithoutAnAnswer(t *testing.T) {
	var _, _, adapter = new_adapter(t, default_script())
	require.Nil(t, adapter.Hard_reset())
	/* no-op never answers, so waiting for a reply byte can only time out */
	var ret, _ = adapter.Exchange(seqacquirelib.AHA_CMD_NO_OP, nil, 1)
	require.NotNil(t, ret)
	assert.True(t, seqacquirelib.Is_timeout(ret))
}

func TestAdapterAbortsWhileWaiting(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var mem = seqacquirelib.New_host_memory(log)
	var sim = simscope.New_sim_adapter(log, mem, default_script())
	var adapter = seqacquirelib.New_aha_adapter(log, sim, sim, simscope.New_countdown_abort(0), 0)
	var ret = adapter.Hard_reset()
	require.NotNil(t, ret)
	assert.True(t, seqacquirelib.Is_abort(ret))
	assert.Equal(t, 2, seqacquirelib.Exit_code(ret))

	/* shutdown still gets the board reset */
	adapter.Shutdown()
	assert.Equal(t, 2, sim.Hard_resets())
}
