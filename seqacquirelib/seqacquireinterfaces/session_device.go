// Package seqacquireinterfaces has a package comment to make the linter happy
package seqacquireinterfaces

type Session_device interface {

	/* pipeline elements get handed the session once the block size is known, which is
	   only after the first block has been read. every block after that is exactly
	   this many bytes. */

	Get_block_size_in_bytes() uint32

	Get_pool_size() uint32
}
