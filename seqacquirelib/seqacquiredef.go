// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package seqacquirelib

type u8 = uint8

type u16 = uint16

type s32 = int32
type u32 = uint32

type u64 = uint64

const HOST_ADDRESS_BITS int = 24 // every address the adapter can see is 3 bytes
const HOST_ADDRESS_LIMIT uint32 = 1 << HOST_ADDRESS_BITS
