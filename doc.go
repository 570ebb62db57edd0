// Package amdcmd records command buffers for AMD GCN and RDNA GPUs.
//
// # Overview
//
// amdcmd tracks Vulkan-style command buffer state and turns it into PM4
// packets the command processor executes. State set through CmdSet* and
// CmdBind* calls is only remembered; registers are written at the next draw
// or dispatch, and only for the state groups the bound pipeline reads and
// that changed since they were last written.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/amdcmd"
//		"github.com/gogpu/amdcmd/winsys/memws"
//	)
//
//	dev, err := amdcmd.NewDevice(memws.New(), amdcmd.WithChip("navi21"))
//	if err != nil {
//		return err
//	}
//	cb, err := dev.CreateCommandBuffer(amdcmd.QueueFamilyGeneral, false)
//	if err != nil {
//		return err
//	}
//	cb.Begin()
//	cb.CmdBindPipeline(pipeline)
//	cb.CmdSetViewport(0, []amdcmd.Viewport{{Width: 1920, Height: 1080, MaxDepth: 1}})
//	cb.CmdDraw(3, 1, 0, 0)
//	if err := cb.End(); err != nil {
//		return err
//	}
//
// # Errors
//
// Running out of upload memory or stream space invalidates the command
// buffer. The first such error is sticky: later Cmd* calls return it
// without recording, and End reports it. Only Reset clears it. Use
// errors.Is with ErrOutOfHostMemory or ErrOutOfDeviceMemory to classify it.
//
// # Architecture
//
// The package is organized into:
//   - Public API: Device, CommandBuffer, Pipeline, Shader, Image, QueryPool
//   - Internal: pm4 (packets), flush (cache operations), dirty (state
//     groups), derive (register values), gang (task shader stream),
//     layout and meta (image compression), upload (scratch memory)
//   - Winsys: the command stream and buffer interfaces, with an in-memory
//     implementation in winsys/memws
//
// # Concurrency
//
// A Device may be shared between goroutines. A CommandBuffer belongs to
// one goroutine while it records.
package amdcmd

// Version is the library version reported by tools built on it.
const Version = "0.1.0"
