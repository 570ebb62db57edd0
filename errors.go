package amdcmd

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfHostMemory is the sticky error recorded when host memory
	// backing the upload ring or a stream cannot be obtained.
	ErrOutOfHostMemory = errors.New("amdcmd: out of host memory")

	// ErrOutOfDeviceMemory is the sticky error recorded when a GPU buffer
	// object cannot be created.
	ErrOutOfDeviceMemory = errors.New("amdcmd: out of device memory")

	// ErrNotRecording is returned by entry points called outside Begin/End.
	ErrNotRecording = errors.New("amdcmd: command buffer is not recording")

	// ErrInvalidState is returned by Begin and End on a buffer in the
	// wrong lifecycle state.
	ErrInvalidState = errors.New("amdcmd: command buffer in invalid state")

	// ErrInvalidBindPoint is returned for a bind point the object does not
	// support.
	ErrInvalidBindPoint = errors.New("amdcmd: invalid bind point")

	// ErrTooManyViewports is returned when a viewport or scissor range
	// exceeds MaxViewports.
	ErrTooManyViewports = errors.New("amdcmd: too many viewports")

	// ErrTooManyDiscardRectangles is returned when a discard rectangle range
	// exceeds MaxDiscardRectangles.
	ErrTooManyDiscardRectangles = errors.New("amdcmd: too many discard rectangles")

	// ErrTooManyAttachments is returned when more than MaxColorAttachments
	// color attachments are used.
	ErrTooManyAttachments = errors.New("amdcmd: too many color attachments")

	// ErrBindingOutOfRange is returned when a descriptor set, vertex binding
	// or streamout binding index is beyond its table.
	ErrBindingOutOfRange = errors.New("amdcmd: binding index out of range")

	// ErrPushConstantRange is returned when push constants exceed
	// MaxPushConstantSize or are not dword aligned.
	ErrPushConstantRange = errors.New("amdcmd: push constant range out of bounds")

	// ErrNoPipeline is returned by draws and dispatches without a bound
	// pipeline.
	ErrNoPipeline = errors.New("amdcmd: no pipeline bound")

	// ErrMissingShader is returned when a pipeline description lacks a
	// stage it requires.
	ErrMissingShader = errors.New("amdcmd: pipeline is missing a required shader")

	// ErrUnsupported is returned for features the chip does not have.
	ErrUnsupported = errors.New("amdcmd: unsupported on this chip")

	// ErrImportMismatch is returned when an imported buffer does not match
	// the image it is bound to.
	ErrImportMismatch = errors.New("amdcmd: imported memory does not match image")

	// ErrNotExecutable is returned by CmdExecuteCommands for a secondary in
	// any state but Executable.
	ErrNotExecutable = errors.New("amdcmd: secondary command buffer is not executable")
)
