package amdcmd

import "github.com/gogpu/amdcmd/internal/pm4"

// EmitTraceMarker writes the next trace id into the device trace buffer.
// A hang is located by reading back the last id that landed. Without a
// trace buffer it does nothing.
func (cb *CommandBuffer) EmitTraceMarker() error {
	if err := cb.check(); err != nil {
		return err
	}
	cb.traceMarker()
	return nil
}

func (cb *CommandBuffer) traceMarker() {
	bo := cb.dev.trace
	if bo == nil || cb.family == QueueFamilyTransfer {
		return
	}
	cb.addBuffer(bo)
	pm4.WriteData(cb.cs, pm4.EngineME, bo.VA(), cb.dev.nextTraceID())
}
