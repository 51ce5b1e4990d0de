// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirecmd/sink"
	"github.com/nixomose/seqacquire/seqacquirelib"
	"github.com/nixomose/seqacquire/seqacquirelib/crcpipe"
	"github.com/spf13/pflag"
)

const DEFAULT_FILE_NAME string = "output"
const MAX_TIMEOUT_SECONDS int = 327
const DEFAULT_SIM_PACKETS int = 100
const DEFAULT_SIM_BLOCK_SIZE uint32 = 16384

/* the single letter switches, they're pflag bools so they show up in the usage text
   and so anything that gets handed the command can look at them. */
const FLAG_HELP string = "help"
const FLAG_QUIET string = "quiet"
const FLAG_VERBOSE string = "verbose"
const FLAG_TIMING string = "timing"
const FLAG_MEMORY string = "memory"

type Acquire_config struct {
	Help         bool
	Quiet        bool
	Verbose      bool
	Timing       bool
	Memory_only  bool
	Block_size   uint32
	Pool_size    int
	Scope_id     uint8
	Timeout      time.Duration
	File         string
	Speed        uint8
	Chunk        int
	Direct       bool
	Mailboxes    int
	Crc          bool
	Report_setup bool

	Sim_packets    int
	Sim_block_size uint32
}

func Default_acquire_config() Acquire_config {
	return Acquire_config{
		Block_size:     seqacquirelib.DEFAULT_BLOCK_SIZE,
		Pool_size:      seqacquirelib.DEFAULT_POOL_SIZE,
		Scope_id:       seqacquirelib.DEFAULT_SCOPE_ID,
		Timeout:        seqacquirelib.DEFAULT_TIMEOUT,
		File:           DEFAULT_FILE_NAME,
		Chunk:          sink.DEFAULT_CHUNK_SIZE,
		Mailboxes:      seqacquirelib.DEFAULT_MAILBOX_SLOTS,
		Sim_packets:    DEFAULT_SIM_PACKETS,
		Sim_block_size: DEFAULT_SIM_BLOCK_SIZE,
	}
}

func (this Acquire_config) Session_config() seqacquirelib.Session_config {
	var s = seqacquirelib.Default_session_config()
	s.Block_size = this.Block_size
	s.Pool_size = this.Pool_size
	s.Scope_id = this.Scope_id
	s.Timeout = this.Timeout
	s.Memory_only = this.Memory_only
	s.Report_setup = this.Verbose && this.Report_setup
	return s
}

/* Add_acquire_flags defines the switches Parse_acquire_args keeps up to date. */
func Add_acquire_flags(flags *pflag.FlagSet) {
	flags.BoolP(FLAG_HELP, "h", false, "print this message")
	flags.BoolP(FLAG_QUIET, "q", false, "do not print anything")
	flags.BoolP(FLAG_VERBOSE, "v", false, "print diagnostic and status messages")
	flags.BoolP(FLAG_TIMING, "t", false, "print timing information about SCSI transfers")
	flags.BoolP(FLAG_MEMORY, "m", false, "transfer SCSI data to memory (no disk output)")
	crcpipe.Add_flags(flags)
}

func Usage(out io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(out, "usage:  seqacquire [ options ]\n")
	fmt.Fprintf(out, "\noptions are:\n")
	if flags != nil {
		fmt.Fprint(out, flags.FlagUsages())
	}
	fmt.Fprintf(out, "  bs=#\t\tset SCSI block size to # (default is %d)\n", seqacquirelib.DEFAULT_BLOCK_SIZE)
	fmt.Fprintf(out, "  nb=#\t\tallocate # SCSI blocks (default is %d)\n", seqacquirelib.DEFAULT_POOL_SIZE)
	fmt.Fprintf(out, "  id=#\t\tSCSI identifier of scope (default is %d)\n", seqacquirelib.DEFAULT_SCOPE_ID)
	fmt.Fprintf(out, "  timeout=#\tSCSI time out in seconds(0-%d) (default is %d)\n", MAX_TIMEOUT_SECONDS,
		int(seqacquirelib.DEFAULT_TIMEOUT/time.Second))
	fmt.Fprintf(out, "  file=name\toutput file name (default is %s)\n", DEFAULT_FILE_NAME)
	fmt.Fprintf(out, "  speed=#\tSCSI transfer speed (see SCSI manual)\n")
	fmt.Fprintf(out, "  chunk=#\tlargest single write to the output file (default is %d)\n", sink.DEFAULT_CHUNK_SIZE)
	fmt.Fprintf(out, "  direct=0|1\twrite the output file with O_DIRECT\n")
	fmt.Fprintf(out, "  mailboxes=#\tnumber of adapter mailboxes (default is %d)\n", seqacquirelib.DEFAULT_MAILBOX_SLOTS)
	fmt.Fprintf(out, "  crc=0|1\tkeep a crc32 of everything written\n")
	fmt.Fprintf(out, "  poly=name\tcrc polynomial: ieee, castagnoli or koopman\n")
	fmt.Fprintf(out, "  setup=0|1\twith -v, print the adapter and scope setup\n")
	fmt.Fprintf(out, "  sim=#\t\tpackets the simulated scope sends (default is %d)\n", DEFAULT_SIM_PACKETS)
	fmt.Fprintf(out, "  simbs=#\tblock size the simulated scope sends (default is %d)\n", DEFAULT_SIM_BLOCK_SIZE)
}

func bad_arg(log *tools.Nixomosetools_logger, word string, why string) tools.Ret {
	return tools.ErrorWithCode(log, -int(syscall.EINVAL), "invalid argument ", word, ": ", why)
}

func parse_uint(log *tools.Nixomosetools_logger, word string, value string, bits int) (tools.Ret, uint64) {
	var v, err = strconv.ParseUint(value, 10, bits)
	if err != nil {
		return bad_arg(log, word, err.Error()), 0
	}
	return nil, v
}

func parse_bool(log *tools.Nixomosetools_logger, word string, value string) (tools.Ret, bool) {
	switch value {
	case "0":
		return nil, false
	case "1":
		return nil, true
	}
	return bad_arg(log, word, "must be 0 or 1"), false
}

func set_flag(flags *pflag.FlagSet, name string, value string) {
	if flags != nil && flags.Lookup(name) != nil {
		flags.Set(name, value)
	}
}

/* Parse_acquire_args walks the words left to right, so a later -q or -v undoes an earlier one.
   Switches match on their first two characters. Anything unrecognized, and -h, come back as
   EINVAL with Help set so the caller prints usage. A timeout outside 0..327 is reported on out
   and otherwise ignored. */
func Parse_acquire_args(log *tools.Nixomosetools_logger, flags *pflag.FlagSet, args []string,
	out io.Writer) (tools.Ret, Acquire_config) {
	var c = Default_acquire_config()
	for _, word := range args {
		var ret tools.Ret
		var v uint64
		switch {
		case strings.HasPrefix(word, "-h"):
			c.Help = true
			set_flag(flags, FLAG_HELP, "true")
			return tools.ErrorWithCode(log, -int(syscall.EINVAL), "help requested"), c
		case strings.HasPrefix(word, "-q"):
			c.Quiet = true
			c.Verbose = false
			set_flag(flags, FLAG_QUIET, "true")
			set_flag(flags, FLAG_VERBOSE, "false")
		case strings.HasPrefix(word, "-v"):
			c.Quiet = false
			c.Verbose = true
			set_flag(flags, FLAG_QUIET, "false")
			set_flag(flags, FLAG_VERBOSE, "true")
		case strings.HasPrefix(word, "-m"):
			c.Memory_only = true
			set_flag(flags, FLAG_MEMORY, "true")
		case strings.HasPrefix(word, "-t"):
			c.Timing = true
			set_flag(flags, FLAG_TIMING, "true")
		case strings.HasPrefix(word, "bs="):
			if ret, v = parse_uint(log, word, word[3:], 24); ret == nil {
				if v == 0 {
					ret = bad_arg(log, word, "block size can't be zero")
				}
				c.Block_size = uint32(v)
			}
		case strings.HasPrefix(word, "nb="):
			if ret, v = parse_uint(log, word, word[3:], 16); ret == nil {
				if v == 0 {
					ret = bad_arg(log, word, "need at least one block")
				}
				c.Pool_size = int(v)
			}
		case strings.HasPrefix(word, "id="):
			if ret, v = parse_uint(log, word, word[3:], 8); ret == nil {
				if v > 7 {
					ret = bad_arg(log, word, "scsi ids go from 0 to 7")
				}
				c.Scope_id = uint8(v)
			}
		case strings.HasPrefix(word, "timeout="):
			var t, err = strconv.Atoi(word[8:])
			if err != nil {
				ret = bad_arg(log, word, err.Error())
			} else if t < 0 || t > MAX_TIMEOUT_SECONDS {
				fmt.Fprintf(out, "Invalid timeout value: %d, value not changed\n", t)
			} else {
				c.Timeout = time.Duration(t) * time.Second
			}
		case strings.HasPrefix(word, "file="):
			c.File = word[5:]
			if c.File == "" {
				ret = bad_arg(log, word, "no file name")
			}
		case strings.HasPrefix(word, "speed="):
			if ret, v = parse_uint(log, word, word[6:], 8); ret == nil {
				c.Speed = uint8(v)
			}
		case strings.HasPrefix(word, "chunk="):
			if ret, v = parse_uint(log, word, word[6:], 31); ret == nil {
				c.Chunk = int(v)
			}
		case strings.HasPrefix(word, "direct="):
			ret, c.Direct = parse_bool(log, word, word[7:])
		case strings.HasPrefix(word, "mailboxes="):
			if ret, v = parse_uint(log, word, word[10:], 8); ret == nil {
				if v == 0 {
					ret = bad_arg(log, word, "need at least one mailbox")
				}
				c.Mailboxes = int(v)
			}
		case strings.HasPrefix(word, "crc="):
			ret, c.Crc = parse_bool(log, word, word[4:])
		case strings.HasPrefix(word, "poly="):
			if flags == nil || flags.Lookup(crcpipe.CRC_POLY_FLAG) == nil {
				ret = bad_arg(log, word, "no crc flags")
			} else if err := flags.Set(crcpipe.CRC_POLY_FLAG, word[5:]); err != nil {
				ret = bad_arg(log, word, err.Error())
			}
		case strings.HasPrefix(word, "setup="):
			ret, c.Report_setup = parse_bool(log, word, word[6:])
		case strings.HasPrefix(word, "simbs="):
			if ret, v = parse_uint(log, word, word[6:], 24); ret == nil {
				if v < uint64(seqacquirelib.PACKET_NUMBER_SIZE) {
					ret = bad_arg(log, word, "simulated blocks need room for the packet number")
				}
				c.Sim_block_size = uint32(v)
			}
		case strings.HasPrefix(word, "sim="):
			if ret, v = parse_uint(log, word, word[4:], 31); ret == nil {
				if v == 0 {
					ret = bad_arg(log, word, "the scope has to send something")
				}
				c.Sim_packets = int(v)
			}
		default:
			c.Help = true
			ret = bad_arg(log, word, "unrecognized")
		}
		if ret != nil {
			c.Help = true
			return ret, c
		}
	}
	return nil, c
}
