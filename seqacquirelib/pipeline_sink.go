// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Pipeline_sink implements the sink mechanism by running every block through a list of data
   pipeline elements before handing it to the sink it wraps.

   so it goes

   transfer buffer -> pipeline sink (checksum, codecs...) -> sink (file/ram/etc)

   the elements may change the data and its length, the wrapped sink gets whatever comes out
   the other end. */

package seqacquirelib

import (
	"container/list"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/seqacquire/seqacquirelib/seqacquireinterfaces"
)

type Pipeline_sink struct {
	m_log           *tools.Nixomosetools_logger
	m_sink          seqacquireinterfaces.Sink_mechanism
	m_data_pipeline *list.List
}

var _ seqacquireinterfaces.Sink_mechanism = &Pipeline_sink{}
var _ seqacquireinterfaces.Sink_mechanism = (*Pipeline_sink)(nil)
var _ seqacquireinterfaces.Session_aware = (*Pipeline_sink)(nil)

func New_pipeline_sink(log *tools.Nixomosetools_logger, sink seqacquireinterfaces.Sink_mechanism,
	data_pipeline *list.List) *Pipeline_sink {
	var p Pipeline_sink
	p.m_log = log
	p.m_sink = sink
	p.m_data_pipeline = data_pipeline
	return &p
}

func (this *Pipeline_sink) each_element(f func(seqacquireinterfaces.Data_pipeline_element) tools.Ret) tools.Ret {
	for item := this.m_data_pipeline.Front(); item != nil; item = item.Next() {
		var itemval = item.Value
		var pipeline_element, ok = itemval.(seqacquireinterfaces.Data_pipeline_element)
		// check for nil or the type assertion on the list entry will panic
		if ok && pipeline_element != nil {
			var ret = f(pipeline_element)
			if ret != nil {
				return ret
			}
		} else {
			return tools.Error(this.m_log, "pipeline includes an element that isn't a data pipeline: ", itemval)
		}
	}
	return nil
}

func (this *Pipeline_sink) Open() tools.Ret {
	var ret = this.each_element(func(e seqacquireinterfaces.Data_pipeline_element) tools.Ret {
		var ctx = e.Get_context()
		if ctx == nil {
			return nil
		}
		return ctx.Create()
	})
	if ret != nil {
		return ret
	}
	return this.m_sink.Open()
}

func (this *Pipeline_sink) Process_device(device seqacquireinterfaces.Session_device) tools.Ret {
	var ret = this.each_element(func(e seqacquireinterfaces.Data_pipeline_element) tools.Ret {
		return e.Process_device(device)
	})
	if ret != nil {
		return ret
	}
	if aware, ok := this.m_sink.(seqacquireinterfaces.Session_aware); ok {
		return aware.Process_device(device)
	}
	return nil
}

func (this *Pipeline_sink) Write_block(block_number uint64, data []byte, final bool) tools.Ret {
	/* the elements work in place on the slice they're given, and the transfer buffer is going to
	   be read into again, so give them their own copy. */
	var writebuffer = append([]byte{}, data...)
	var ret = this.each_element(func(e seqacquireinterfaces.Data_pipeline_element) tools.Ret {
		return e.Pipe_in(&writebuffer)
	})
	if ret != nil {
		return ret
	}
	return this.m_sink.Write_block(block_number, writebuffer, final)
}

func (this *Pipeline_sink) Close() tools.Ret {
	return this.m_sink.Close()
}
