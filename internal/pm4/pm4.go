// Package pm4 encodes PM4 type-3 packets and register writes for the AMD
// command processor.
//
// Encoding is stateless: every function appends to a [Sink] and decisions
// that depend on the chip generation are made by callers. Register field
// layouts are expressed as small structs with a Pack method so each layout
// can be tested on its own.
package pm4

// Sink receives encoded dwords. winsys.Stream satisfies it.
type Sink interface {
	Append(w uint32)
	AppendArray(ws []uint32)
}

// Opcode is a PM4 type-3 opcode.
type Opcode uint8

// Type-3 opcodes.
const (
	OpNOP                         Opcode = 0x10
	OpSetBase                     Opcode = 0x11
	OpIndexBufferSize             Opcode = 0x13
	OpDispatchDirect              Opcode = 0x15
	OpDispatchIndirect            Opcode = 0x16
	OpSetPredication              Opcode = 0x20
	OpCondExec                    Opcode = 0x22
	OpDrawIndirect                Opcode = 0x24
	OpDrawIndexIndirect           Opcode = 0x25
	OpIndexBase                   Opcode = 0x26
	OpDrawIndex2                  Opcode = 0x27
	OpContextControl              Opcode = 0x28
	OpIndexType                   Opcode = 0x2A
	OpDrawIndirectMulti           Opcode = 0x2C
	OpDrawIndexAuto               Opcode = 0x2D
	OpNumInstances                Opcode = 0x2F
	OpWriteData                   Opcode = 0x37
	OpDrawIndexIndirectMulti      Opcode = 0x38
	OpWaitRegMem                  Opcode = 0x3C
	OpIndirectBuffer              Opcode = 0x3F
	OpCopyData                    Opcode = 0x40
	OpCPDMA                       Opcode = 0x41
	OpPFPSyncME                   Opcode = 0x42
	OpSurfaceSync                 Opcode = 0x43
	OpEventWrite                  Opcode = 0x46
	OpEventWriteEOP               Opcode = 0x47
	OpEventWriteEOS               Opcode = 0x48
	OpReleaseMem                  Opcode = 0x49
	OpDMAData                     Opcode = 0x50
	OpAcquireMem                  Opcode = 0x58
	OpLoadContextRegIndex         Opcode = 0x9F
	OpSetConfigReg                Opcode = 0x68
	OpSetContextReg               Opcode = 0x69
	OpSetSHReg                    Opcode = 0x76
	OpSetUconfigReg               Opcode = 0x79
	OpSetUconfigRegIndex          Opcode = 0x7A
	OpDispatchTaskMeshGFX         Opcode = 0xA7
	OpDispatchTaskMeshDirectACE   Opcode = 0xA8
	OpDispatchTaskMeshIndirectACE Opcode = 0xA9
)

var opNames = map[Opcode]string{
	OpNOP:                         "NOP",
	OpSetBase:                     "SET_BASE",
	OpIndexBufferSize:             "INDEX_BUFFER_SIZE",
	OpDispatchDirect:              "DISPATCH_DIRECT",
	OpDispatchIndirect:            "DISPATCH_INDIRECT",
	OpSetPredication:              "SET_PREDICATION",
	OpCondExec:                    "COND_EXEC",
	OpDrawIndirect:                "DRAW_INDIRECT",
	OpDrawIndexIndirect:           "DRAW_INDEX_INDIRECT",
	OpIndexBase:                   "INDEX_BASE",
	OpDrawIndex2:                  "DRAW_INDEX_2",
	OpContextControl:              "CONTEXT_CONTROL",
	OpIndexType:                   "INDEX_TYPE",
	OpDrawIndirectMulti:           "DRAW_INDIRECT_MULTI",
	OpDrawIndexAuto:               "DRAW_INDEX_AUTO",
	OpNumInstances:                "NUM_INSTANCES",
	OpWriteData:                   "WRITE_DATA",
	OpDrawIndexIndirectMulti:      "DRAW_INDEX_INDIRECT_MULTI",
	OpWaitRegMem:                  "WAIT_REG_MEM",
	OpIndirectBuffer:              "INDIRECT_BUFFER",
	OpCopyData:                    "COPY_DATA",
	OpCPDMA:                       "CP_DMA",
	OpPFPSyncME:                   "PFP_SYNC_ME",
	OpSurfaceSync:                 "SURFACE_SYNC",
	OpEventWrite:                  "EVENT_WRITE",
	OpEventWriteEOP:               "EVENT_WRITE_EOP",
	OpEventWriteEOS:               "EVENT_WRITE_EOS",
	OpReleaseMem:                  "RELEASE_MEM",
	OpDMAData:                     "DMA_DATA",
	OpAcquireMem:                  "ACQUIRE_MEM",
	OpLoadContextRegIndex:         "LOAD_CONTEXT_REG_INDEX",
	OpSetConfigReg:                "SET_CONFIG_REG",
	OpSetContextReg:               "SET_CONTEXT_REG",
	OpSetSHReg:                    "SET_SH_REG",
	OpSetUconfigReg:               "SET_UCONFIG_REG",
	OpSetUconfigRegIndex:          "SET_UCONFIG_REG_INDEX",
	OpDispatchTaskMeshGFX:         "DISPATCH_TASKMESH_GFX",
	OpDispatchTaskMeshDirectACE:   "DISPATCH_TASKMESH_DIRECT_ACE",
	OpDispatchTaskMeshIndirectACE: "DISPATCH_TASKMESH_INDIRECT_MULTI_ACE",
}

// String returns the packet mnemonic.
func (op Opcode) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "UNKNOWN"
}

// Register aperture bases. Register writes encode the dword offset from the
// base of the aperture the register lives in.
const (
	ConfigRegBase  uint32 = 0x8000
	ConfigRegEnd   uint32 = 0xB000
	SHRegBase      uint32 = 0xB000
	SHRegEnd       uint32 = 0xC000
	ContextRegBase uint32 = 0x28000
	ContextRegEnd  uint32 = 0x29000
	UconfigRegBase uint32 = 0x30000
	UconfigRegEnd  uint32 = 0x40000
)

// Header bits.
const (
	pkt3Type      uint32 = 3 << 30
	shaderTypeBit uint32 = 1 << 1
	type2NOP      uint32 = 0x80000000
	countMask     uint32 = 0x3FFF
)

// PKT3 builds a type-3 header. count is the body length in dwords minus one.
func PKT3(op Opcode, count int, predicate bool) uint32 {
	// #nosec G115 -- count is bounded by the 14-bit field mask
	h := pkt3Type | (uint32(count)&countMask)<<16 | uint32(op)<<8
	if predicate {
		h |= 1
	}
	return h
}

// ComputeShader marks a header as targeting the compute pipeline.
func ComputeShader(h uint32) uint32 {
	return h | shaderTypeBit
}

// bit returns 1 when b is set.
func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Lo returns the low dword of a 64-bit address.
func Lo(va uint64) uint32 { return uint32(va) }

// Hi returns the high dword of a 64-bit address.
func Hi(va uint64) uint32 { return uint32(va >> 32) }
