package pm4

import "fmt"

// Packet is one decoded packet.
type Packet struct {
	// Offset is the dword index of the header in the parsed stream.
	Offset    int
	Op        Opcode
	Predicate bool
	// Type2 marks a single-dword type-2 filler.
	Type2 bool
	Body  []uint32
}

// Parse splits a dword stream into packets. Only type-2 and type-3 packets
// are accepted.
func Parse(words []uint32) ([]Packet, error) {
	var pkts []Packet
	for i := 0; i < len(words); {
		h := words[i]
		switch h >> 30 {
		case 2:
			pkts = append(pkts, Packet{Offset: i, Type2: true})
			i++
		case 3:
			n := int((h>>16)&countMask) + 1
			if i+1+n > len(words) {
				return pkts, fmt.Errorf("pm4: packet at %d overruns stream (%d body dwords, %d left)", i, n, len(words)-i-1)
			}
			pkts = append(pkts, Packet{
				Offset:    i,
				Op:        Opcode(h >> 8),
				Predicate: h&1 != 0,
				Body:      words[i+1 : i+1+n],
			})
			i += 1 + n
		default:
			return pkts, fmt.Errorf("pm4: unsupported packet type %d at %d", h>>30, i)
		}
	}
	return pkts, nil
}

// RegWrite is one register write extracted from a stream.
type RegWrite struct {
	Reg   uint32
	Value uint32
	// Packet is the index of the packet within the parsed stream.
	Packet int
}

func regBase(op Opcode) (uint32, bool) {
	switch op {
	case OpSetConfigReg:
		return ConfigRegBase, true
	case OpSetContextReg:
		return ContextRegBase, true
	case OpSetSHReg:
		return SHRegBase, true
	case OpSetUconfigReg, OpSetUconfigRegIndex:
		return UconfigRegBase, true
	}
	return 0, false
}

// RegWrites returns every register write contained in pkts in stream order.
func RegWrites(pkts []Packet) []RegWrite {
	var out []RegWrite
	for pi, p := range pkts {
		base, ok := regBase(p.Op)
		if !ok || len(p.Body) < 2 {
			continue
		}
		reg := base + (p.Body[0]&0xFFFF)<<2
		for j, v := range p.Body[1:] {
			// #nosec G115 -- j is bounded by the 14-bit count field
			out = append(out, RegWrite{Reg: reg + uint32(j)*4, Value: v, Packet: pi})
		}
	}
	return out
}

// CountOp returns how many packets in pkts use op.
func CountOp(pkts []Packet, op Opcode) int {
	n := 0
	for _, p := range pkts {
		if !p.Type2 && p.Op == op {
			n++
		}
	}
	return n
}

// LastWrite returns the value most recently written to reg.
func LastWrite(writes []RegWrite, reg uint32) (uint32, bool) {
	for i := len(writes) - 1; i >= 0; i-- {
		if writes[i].Reg == reg {
			return writes[i].Value, true
		}
	}
	return 0, false
}

// WritesTo returns how many times reg is written.
func WritesTo(writes []RegWrite, reg uint32) int {
	n := 0
	for _, w := range writes {
		if w.Reg == reg {
			n++
		}
	}
	return n
}

// Events returns the event types of all EVENT_WRITE packets in order.
func Events(pkts []Packet) []Event {
	var out []Event
	for _, p := range pkts {
		if p.Op == OpEventWrite && len(p.Body) > 0 && !p.Type2 {
			out = append(out, Event(p.Body[0]&0x3F))
		}
	}
	return out
}
