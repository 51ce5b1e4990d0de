// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquireinterfaces

import "github.com/nixomose/nixomosegotools/tools"

/* the adapter is driven through three byte wide ports. offset 0 is control on write and
   status on read, 1 is the data port, 2 is the interrupt flags port. */

type Register_port interface {
	Read_port(offset uint16) byte
	Write_port(offset uint16, value byte)
}

type Interrupt_line interface {
	/* handler is called from whatever goroutine the interrupt is raised on. it is never
	   called while the line is masked. */
	Attach(handler func()) tools.Ret
	Mask()
	Unmask()
}
