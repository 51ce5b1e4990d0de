// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

import (
	"syscall"

	"github.com/nixomose/nixomosegotools/tools"
)

/* the error kinds, carried as the errcode of a tools.Ret so callers can switch on them.
   negative like every other errno we hand back. */

const E_ADAPTER_TIMEOUT = -int(syscall.ETIMEDOUT)
const E_ADAPTER_DIAGNOSTIC_FAILURE = -int(syscall.ENXIO)
const E_ADAPTER_UNEXPECTED = -int(syscall.ENODEV) // reset finished but the board doesn't want a mailbox init
const E_INVALID_COMMAND = -int(syscall.EINVAL)
const E_INVALID_CONFIG = -int(syscall.EBADMSG)
const E_SELECTION_TIMEOUT = -int(syscall.EHOSTUNREACH)
const E_NO_FREE_MAILBOX_SLOT = -int(syscall.EBUSY)
const E_PROTOCOL_SEQUENCE = -int(syscall.EPROTO)
const E_IO = -int(syscall.EIO)
const E_OUT_OF_MEMORY = -int(syscall.ENOMEM)
const E_ABORTED = -int(syscall.EINTR)
const E_COMMAND_FAILED = -int(syscall.EREMOTEIO)

func has_code(ret tools.Ret, code int) bool {
	if ret == nil {
		return false
	}
	return ret.Get_errcode() == code || ret.Get_errcode() == -code
}

func Is_timeout(ret tools.Ret) bool {
	return has_code(ret, E_ADAPTER_TIMEOUT)
}

func Is_abort(ret tools.Ret) bool {
	return has_code(ret, E_ABORTED)
}

func Is_invalid_command(ret tools.Ret) bool {
	return has_code(ret, E_INVALID_COMMAND)
}

func Is_protocol_sequence_error(ret tools.Ret) bool {
	return has_code(ret, E_PROTOCOL_SEQUENCE)
}

func Is_no_free_slot(ret tools.Ret) bool {
	return has_code(ret, E_NO_FREE_MAILBOX_SLOT)
}

func Is_selection_timeout(ret tools.Ret) bool {
	return has_code(ret, E_SELECTION_TIMEOUT)
}

/* Exit_code maps a session result to the process exit status: 0 for success,
   2 for a user abort and 1 for everything else. */
func Exit_code(ret tools.Ret) int {
	if ret == nil {
		return 0
	}
	if Is_abort(ret) {
		return 2
	}
	return 1
}
