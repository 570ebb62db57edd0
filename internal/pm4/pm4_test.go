package pm4

import "testing"

type sink struct {
	words []uint32
}

func (s *sink) Append(w uint32)         { s.words = append(s.words, w) }
func (s *sink) AppendArray(ws []uint32) { s.words = append(s.words, ws...) }

// =============================================================================
// Header encoding
// =============================================================================

func TestPKT3(t *testing.T) {
	tests := []struct {
		name      string
		op        Opcode
		count     int
		predicate bool
		want      uint32
	}{
		{"set_context_reg", OpSetContextReg, 1, false, 0xC0016900},
		{"draw_index_auto_pred", OpDrawIndexAuto, 1, true, 0xC0012D01},
		{"nop_zero", OpNOP, 0, false, 0xC0001000},
		{"release_mem", OpReleaseMem, 6, false, 0xC0064900},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PKT3(tt.op, tt.count, tt.predicate); got != tt.want {
				t.Errorf("PKT3() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestOpcodeString(t *testing.T) {
	if got := OpDrawIndex2.String(); got != "DRAW_INDEX_2" {
		t.Errorf("String() = %q, want DRAW_INDEX_2", got)
	}
	if got := Opcode(0xFF).String(); got != "UNKNOWN" {
		t.Errorf("String() = %q, want UNKNOWN", got)
	}
}

// =============================================================================
// Register writes
// =============================================================================

func TestSetContextRegSeq(t *testing.T) {
	s := &sink{}
	SetContextRegSeq(s, RegPAClVportXScale, 1, 2, 3)

	want := []uint32{PKT3(OpSetContextReg, 3, false), (RegPAClVportXScale - ContextRegBase) >> 2, 1, 2, 3}
	if len(s.words) != len(want) {
		t.Fatalf("len = %d, want %d", len(s.words), len(want))
	}
	for i := range want {
		if s.words[i] != want[i] {
			t.Errorf("word[%d] = %#x, want %#x", i, s.words[i], want[i])
		}
	}
}

func TestRegWritesRoundTripApertures(t *testing.T) {
	s := &sink{}
	SetConfigReg(s, RegVGTPrimitiveTypeGFX6, 4)
	SetSHRegSeq(s, RegSPIShaderUserDataVS+8, 10, 11)
	SetContextReg(s, RegDBDepthControl, 0x12)
	SetUconfigRegIdx(s, RegVGTIndexType, 3, 1)

	pkts, err := Parse(s.words)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	writes := RegWrites(pkts)

	want := []RegWrite{
		{Reg: RegVGTPrimitiveTypeGFX6, Value: 4, Packet: 0},
		{Reg: RegSPIShaderUserDataVS + 8, Value: 10, Packet: 1},
		{Reg: RegSPIShaderUserDataVS + 12, Value: 11, Packet: 1},
		{Reg: RegDBDepthControl, Value: 0x12, Packet: 2},
		{Reg: RegVGTIndexType, Value: 1, Packet: 3},
	}
	if len(writes) != len(want) {
		t.Fatalf("RegWrites() returned %d writes, want %d", len(writes), len(want))
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("RegWrites()[%d] = %+v, want %+v", i, writes[i], want[i])
		}
	}
	if pkts[3].Body[0]>>28 != 3 {
		t.Errorf("uconfig index = %d, want 3", pkts[3].Body[0]>>28)
	}
}

// =============================================================================
// Packet body lengths
// =============================================================================

func TestPacketCountsMatchBodies(t *testing.T) {
	emitters := map[string]func(s Sink){
		"event_write":     func(s Sink) { EventWrite(s, EventCSPartialFlush, 4) },
		"event_write_va":  func(s Sink) { EventWriteVA(s, EventZPassDone, 1, 0x1_0000_1000) },
		"release_mem":     func(s Sink) { ReleaseMem(s, EventBottomOfPipeTS, 0, EOPDataSelValue32, 0x1000, 7, false) },
		"release_short":   func(s Sink) { ReleaseMem(s, EventBottomOfPipeTS, 0, EOPDataSelValue32, 0x1000, 7, true) },
		"eop":             func(s Sink) { EventWriteEOP(s, EventCacheFlushAndInvTS, 0, EOPDataSelValue32, 0x1000, 7) },
		"wait_reg_mem":    func(s Sink) { WaitRegMem(s, WaitGreaterEqual, 0x1000, 1, 0xFFFFFFFF) },
		"write_data":      func(s Sink) { WriteData(s, EngineME, 0x1000, 1, 2, 3) },
		"acquire_gfx10":   func(s Sink) { AcquireMemGFX10(s, 0x1234) },
		"acquire":         func(s Sink) { AcquireMem(s, 0x1234, 0xFFFFFF, false) },
		"surface_sync":    func(s Sink) { SurfaceSync(s, 0x1234) },
		"pfp_sync_me":     PFPSyncME,
		"dma_data":        func(s Sink) { DMAData(s, DMASrcSelTCL2|DMADstSelNowhere, 0x1000, 0, 256, 0) },
		"indirect_buffer": func(s Sink) { IndirectBuffer(s, 0x1000, 64, true) },
		"set_predication": func(s Sink) { SetPredication(s, PredOpBool64, true, 0x1000) },
		"set_pred_gfx6":   func(s Sink) { SetPredicationGFX6(s, PredOpBool32, false, 0x1000) },
		"draw_auto":       func(s Sink) { DrawIndexAuto(s, 3, false, false) },
		"draw_index_2":    func(s Sink) { DrawIndex2(s, 100, 0x1000, 6, false) },
		"draw_indirect":   func(s Sink) { DrawIndirect(s, true, 0, 1, 2, false) },
		"multi":           func(s Sink) { DrawIndirectMulti(s, false, 0, 1, 2, 3, 4, 0x2000, 16, false) },
		"dispatch":        func(s Sink) { DispatchDirect(s, 1, 2, 3, DispatchComputeShaderEn, false) },
		"dispatch_mec":    func(s Sink) { DispatchIndirectMEC(s, 0x1000, DispatchComputeShaderEn) },
		"taskmesh_gfx":    func(s Sink) { DispatchTaskMeshGFX(s, 4, 5, false) },
		"taskmesh_ace":    func(s Sink) { DispatchTaskMeshDirectACE(s, 1, 1, 1, 1, 4, false) },
		"taskmesh_ind":    func(s Sink) { DispatchTaskMeshIndirectACE(s, 0x1000, 1, 0, 12, 1, 4, 6) },
		"copy_data":       func(s Sink) { CopyMemToReg(s, 0x1000, RegVGTStrmoutBufferFilledSize) },
		"load_context":    func(s Sink) { LoadContextReg(s, 0x1000, RegVGTStrmoutBufferFilledSize, 1) },
		"nop":             func(s Sink) { NOP(s, 5) },
	}
	for name, emit := range emitters {
		t.Run(name, func(t *testing.T) {
			s := &sink{}
			emit(s)
			pkts, err := Parse(s.words)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(pkts) != 1 {
				t.Fatalf("Parse() returned %d packets, want 1", len(pkts))
			}
			if 1+len(pkts[0].Body) != len(s.words) {
				t.Errorf("packet spans %d dwords, stream has %d", 1+len(pkts[0].Body), len(s.words))
			}
		})
	}
}

func TestDispatchTaskMeshIndirectLayout(t *testing.T) {
	s := &sink{}
	DispatchTaskMeshIndirectACE(s, 0x1_0000_2000, 8, 0x1_0000_3000, 16, 0x55, 0x4C, 0x4E)
	pkts, err := Parse(s.words)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []uint32{
		0x0000_2000, 0x1, // args
		0x4C,             // ring entry
		1 | 1<<2,         // count indirect, xyz dim
		0x4E,             // xyz dim reg
		8,                // draw count
		0x0000_3000, 0x1, // count
		16,               // stride
		0x55,             // initiator
	}
	body := pkts[0].Body
	if len(body) != len(want) {
		t.Fatalf("body = %#x, want %d dwords", body, len(want))
	}
	for i := range want {
		if body[i] != want[i] {
			t.Errorf("body[%d] = %#x, want %#x", i, body[i], want[i])
		}
	}

	s = &sink{}
	DispatchTaskMeshIndirectACE(s, 0x1000, 1, 0, 12, 1, 4, 0)
	pkts, _ = Parse(s.words)
	if flags := pkts[0].Body[3]; flags != 0 {
		t.Errorf("flags without count or xyz dim = %#x, want 0", flags)
	}
}

func TestFilledSizeLoads(t *testing.T) {
	s := &sink{}
	CopyMemToReg(s, 0x1_0000_2000, RegVGTStrmoutBufferFilledSize)
	LoadContextReg(s, 0x1_0000_2000, RegVGTStrmoutBufferFilledSize, 1)
	pkts, err := Parse(s.words)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cp := pkts[0].Body
	if cp[0] != copyDataSrcMem|copyDataWrConfirm || cp[1] != 0x2000 || cp[2] != 0x1 || cp[3] != RegVGTStrmoutBufferFilledSize>>2 {
		t.Errorf("COPY_DATA body = %#x", cp)
	}
	ld := pkts[1].Body
	if ld[0] != 0x2000 || ld[1] != 0x1 || ld[2] != (RegVGTStrmoutBufferFilledSize-ContextRegBase)>>2 || ld[3] != 1 {
		t.Errorf("LOAD_CONTEXT_REG_INDEX body = %#x", ld)
	}
	if got := RegWrites(pkts); len(got) != 0 {
		t.Errorf("RegWrites() = %v, want none for CP loads", got)
	}
}

func TestDrawIndexAutoOpaque(t *testing.T) {
	s := &sink{}
	DrawIndexAuto(s, 0, true, false)
	// USE_OPAQUE is bit 6; bit 5 is NOT_EOP.
	if got := s.words[2]; got != DISrcSelAutoIndex|1<<6 {
		t.Errorf("draw initiator = %#x, want %#x", got, DISrcSelAutoIndex|1<<6)
	}
}

func TestNOPSingleDword(t *testing.T) {
	s := &sink{}
	NOP(s, 1)
	pkts, err := Parse(s.words)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(pkts) != 1 || !pkts[0].Type2 {
		t.Errorf("NOP(1) = %v, want one type-2 packet", pkts)
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	words := []uint32{PKT3(OpWriteData, 4, false), 0, 0}
	if _, err := Parse(words); err == nil {
		t.Error("Parse() error = nil, want overrun error")
	}
}

func TestEvents(t *testing.T) {
	s := &sink{}
	EventWrite(s, EventFlushAndInvCBMeta, 0)
	SetContextReg(s, RegCBTargetMask, 0xF)
	EventWrite(s, EventPSPartialFlush, 4)

	pkts, _ := Parse(s.words)
	got := Events(pkts)
	want := []Event{EventFlushAndInvCBMeta, EventPSPartialFlush}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Events() = %v, want %v", got, want)
	}
}

// =============================================================================
// Field packers
// =============================================================================

func TestFieldPackers(t *testing.T) {
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"depth_control", DepthControl{ZEnable: true, ZWriteEnable: true, ZFunc: 3}.Pack(), 0x36},
		{"depth_control_stencil", DepthControl{StencilEnable: true, BackfaceEnable: true, StencilFunc: 7, StencilFuncBF: 1}.Pack(), 0x100781},
		{"stencil_control", StencilControl{Fail: 1, ZPass: 3, ZFail: 7, FailBF: 5, ZPassBF: 6, ZFailBF: 8}.Pack(), 0x865731},
		{"stencil_ref", StencilRefMask{Ref: 0x11, Mask: 0x22, WriteMask: 0x33}.Pack(), 0x01332211},
		{"su_sc_mode", SUSCModeCntl{CullBack: true, FaceCW: true, ProvokingVtxLast: true}.Pack(), 0x80006},
		{"clip_cntl", ClipCntl{DXClipSpaceDef: true, ZClipNearDisable: true}.Pack(), 1<<19 | 1<<26},
		{"color_control", ColorControl{Mode: CBModeNormal, ROP3: 0xCC}.Pack(), 0xCC0010},
		{"blend_control", BlendControl{ColorSrc: 4, ColorDst: 5, Enable: true}.Pack(), 0x40000504},
		{"blend_opt", BlendOpt{ColorSrcOpt: 1, ColorDstOpt: 2, ColorComb: 1, AlphaComb: 6}.Pack(), 0x06000121},
		{"binner", BinnerCntl{Mode: BinningDisabledNewSC, BinSizeXExtend: 2, DisableStartOfPrim: true, FlushOnBinningTransition: true}.Pack(), 3 | 2<<4 | 1<<18 | 1<<28},
		{"line_stipple", LineStipple{Pattern: 0xF0F0, Repeat: 2, AutoReset: 1}.Pack(), 0x2002F0F0},
		{"scissor_tl", ScissorTL(16, 32), 0x80200010},
		{"scissor_br", ScissorBR(0x8000, 1), 0x00010000},
		{"shader_control", ShaderControl{ZOrder: ZOrderEarlyZThenLate, KillEnable: true}.Pack(), 0x50},
		{"db_fmt", DepthFormatCntl{NegNumDBBits: 0xE9, DBIsFloat: true}.Pack(), 0x1E9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Pack() = %#x, want %#x", tt.got, tt.want)
			}
		})
	}
}
