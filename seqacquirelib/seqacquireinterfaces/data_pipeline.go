// Package seqacquireinterfaces has a package comment
package seqacquireinterfaces

import (
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/spf13/cobra"
)

type Data_pipeline_element interface {

	/* this is the interface that allows one to hang a post processing step (checksums, the
	filter/pack codecs, whatever) on every block on its way from the transfer buffer to the sink. */

	Process_parameters(params *cobra.Command) tools.Ret
	Process_device(device Session_device) tools.Ret

	Pipe_in(data_in_out *[]byte) tools.Ret // on the way to the sink

	Get_context() Data_pipeline_element_context
	Set_context(Data_pipeline_element_context)
}

type Data_pipeline_element_context interface {

	/* this is the interface that lets you keep state for a particular pipeline element
	   across the blocks of one session. */

	Create() tools.Ret

	Get_context() Data_pipeline_element_context
}
