// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package main

import (
	"container/list"
	"fmt"
	"os"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirecmd/sink"
	"github.com/nixomose/seqacquire/seqacquirelib"
	"github.com/nixomose/seqacquire/seqacquirelib/crcpipe"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
	"github.com/nixomose/seqacquire/seqacquirelib/simscope"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var exit_code int = 0

	var root = &cobra.Command{
		Use:   "seqacquire [ options ]",
		Short: "acquire a sequence of blocks from the scope and write them to a file",
		/* the options are key=value words and single letter switches whose order matters, so
		   they are parsed by hand. */
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		Run: func(cmd *cobra.Command, args []string) {
			exit_code = acquire(cmd, args)
		},
	}
	Add_acquire_flags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exit_code = 1
	}
	os.Exit(exit_code)
}

func acquire(cmd *cobra.Command, args []string) int {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)

	var ret, config = Parse_acquire_args(log, cmd.Flags(), args, os.Stdout)
	if ret != nil {
		Usage(os.Stdout, cmd.Flags())
		return 1
	}
	log.Set_level(Library_log_level(config))
	var report = New_reporter(config)
	report.WithFields(logrus.Fields{
		"bs":      config.Block_size,
		"nb":      config.Pool_size,
		"id":      config.Scope_id,
		"timeout": config.Timeout,
		"file":    config.File,
	}).Debug("settings")

	var abort = New_signal_abort(log)
	defer abort.Stop()

	ret = run_session(log, report, cmd, config, abort)
	if ret != nil {
		fmt.Fprintln(os.Stderr, ret.Get_errmsg())
	}
	return seqacquirelib.Exit_code(ret)
}

/* run_session puts the pieces together: the scope lives behind a simulated adapter that does its
   dma into the same host memory the pool comes out of. */
func run_session(log *tools.Nixomosetools_logger, report *logrus.Logger, cmd *cobra.Command, config Acquire_config,
	abort seqacquireinterfaces.Abort_poller) tools.Ret {

	var mem = seqacquirelib.New_host_memory(log)

	var script = simscope.Default_script(simscope.Sequence_packets(config.Sim_packets, 0, 0), config.Sim_block_size)
	var sim = simscope.New_sim_adapter(log, mem, script)
	sim.Start_async()
	defer sim.Stop()

	var adapter = seqacquirelib.New_aha_adapter(log, sim, sim, abort, config.Speed)
	var ret, scsi = seqacquirelib.New_scsi(log, mem, adapter, config.Mailboxes)
	if ret != nil {
		return ret
	}
	defer scsi.Release()

	var output seqacquireinterfaces.Sink_mechanism = sink.New_filesink(log, config.File, config.Chunk, config.Direct)
	var crc *crcpipe.Crc_pipe
	if config.Crc {
		crc = crcpipe.New_crc_pipe(log)
		if ret = crc.Process_parameters(cmd); ret != nil {
			return ret
		}
		var pipeline = list.New()
		pipeline.PushBack(crc)
		output = seqacquirelib.New_pipeline_sink(log, output, pipeline)
	}

	var handler = seqacquirelib.New_acquisition_handler(log, report, mem, scsi, output, system_clock{}, abort,
		config.Session_config())
	var stats seqacquirelib.Statistics
	ret, stats = handler.Run()

	if config.Timing {
		stats.Report(report)
	}
	if crc != nil && ret == nil {
		report.Info(crc.String())
	}
	return ret
}
