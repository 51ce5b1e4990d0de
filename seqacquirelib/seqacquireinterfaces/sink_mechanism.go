// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquireinterfaces

import "github.com/nixomose/nixomosegotools/tools"

type Sink_mechanism interface {
	Open() tools.Ret

	/* data is exactly one acquired block. block_number counts from zero for the session,
	   final is only set on the block carrying the end of stream packet number. */
	Write_block(block_number uint64, data []byte, final bool) tools.Ret

	// must be safe to call after a failed Open or a failed Write_block.
	Close() tools.Ret
}

/* a sink that wants to know the block size once the session has worked it out. */
type Session_aware interface {
	Process_device(device Session_device) tools.Ret
}
