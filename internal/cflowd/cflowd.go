// Package cflowd describes the fixed 57-byte, host-little-endian output
// record emitted by the collector for legacy downstream consumers, and
// the layout table the byte-move planner builds its output side from.
package cflowd

import "encoding/binary"

// RecordSize is the on-disk size of one cflowd record: 53 bytes of
// fields plus 4 bytes of trailing padding.
const RecordSize = 57

// FieldDesc describes one cflowd output field: its name (matched against
// IPFIX/v5 field names by the byte-move planner), its offset within the
// 57-byte record, and its length in bytes.
type FieldDesc struct {
	Name   string
	Offset int
	Length int
}

// Layout is the cflowd record's field list in wire order, offsets
// computed once at package init. Every byte-move plan built against
// this layout fills exactly these offsets; the 4 trailing padding bytes
// are never written and rely on the output buffer starting zeroed.
var Layout = buildLayout()

func buildLayout() []FieldDesc {
	fields := []struct {
		name string
		size int
	}{
		{"flowId", 4},
		{"exporterIPv4Address", 4},
		{"sourceIPv4Address", 4},
		{"destinationIPv4Address", 4},
		{"ingressInterface", 2},
		{"egressInterface", 2},
		{"sourceTransportPort", 2},
		{"destinationTransportPort", 2},
		{"packetDeltaCount", 4},
		{"octetDeltaCount", 4},
		{"ipNextHopIPv4Address", 4},
		{"flowStartSeconds", 4},
		{"flowEndSeconds", 4},
		{"protocolIdentifier", 1},
		{"ipClassOfService", 1},
		{"bgpSourceAsNumber", 2},
		{"bgpDestinationAsNumber", 2},
		{"sourceIPv4PrefixLength", 1},
		{"destinationIPv4PrefixLength", 1},
		{"tcpControlBits", 1},
		// 4 bytes of trailing padding, never named as an output field.
	}

	out := make([]FieldDesc, 0, len(fields))
	offset := 0
	for _, f := range fields {
		out = append(out, FieldDesc{Name: f.name, Offset: offset, Length: f.size})
		offset += f.size
	}
	return out
}

// ByName looks up a cflowd output field by name; ok is false for names
// that aren't part of the cflowd record (e.g. most IPFIX elements).
func ByName(name string) (FieldDesc, bool) {
	for _, f := range Layout {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDesc{}, false
}

// Record is a decoded view over one 57-byte cflowd record, used by
// tests and by the v5/v10 computed-field writers that fill fields the
// byte-move plan doesn't cover (timestamps, flow id, exporter address).
type Record struct {
	FlowID                    uint32
	ExporterIPv4Address       uint32
	SourceIPv4Address         uint32
	DestinationIPv4Address    uint32
	IngressInterface          uint16
	EgressInterface           uint16
	SourceTransportPort       uint16
	DestinationTransportPort  uint16
	PacketDeltaCount          uint32
	OctetDeltaCount           uint32
	IPNextHopIPv4Address      uint32
	FlowStartSeconds          uint32
	FlowEndSeconds            uint32
	ProtocolIdentifier        uint8
	IPClassOfService          uint8
	BGPSourceAsNumber         uint16
	BGPDestinationAsNumber    uint16
	SourceIPv4PrefixLength    uint8
	DestinationIPv4PrefixLen  uint8
	TCPControlBits            uint8
}

// Unpack decodes a 57-byte host-little-endian cflowd record. It is used
// by tests to verify byte-move-plan output without re-deriving offsets.
func Unpack(b []byte) Record {
	if len(b) < RecordSize {
		panic("cflowd: short record")
	}
	le := binary.LittleEndian
	return Record{
		FlowID:                   le.Uint32(b[0:4]),
		ExporterIPv4Address:      le.Uint32(b[4:8]),
		SourceIPv4Address:        le.Uint32(b[8:12]),
		DestinationIPv4Address:   le.Uint32(b[12:16]),
		IngressInterface:         le.Uint16(b[16:18]),
		EgressInterface:          le.Uint16(b[18:20]),
		SourceTransportPort:      le.Uint16(b[20:22]),
		DestinationTransportPort: le.Uint16(b[22:24]),
		PacketDeltaCount:         le.Uint32(b[24:28]),
		OctetDeltaCount:          le.Uint32(b[28:32]),
		IPNextHopIPv4Address:     le.Uint32(b[32:36]),
		FlowStartSeconds:         le.Uint32(b[36:40]),
		FlowEndSeconds:           le.Uint32(b[40:44]),
		ProtocolIdentifier:       b[44],
		IPClassOfService:         b[45],
		BGPSourceAsNumber:        le.Uint16(b[46:48]),
		BGPDestinationAsNumber:   le.Uint16(b[48:50]),
		SourceIPv4PrefixLength:   b[50],
		DestinationIPv4PrefixLen: b[51],
		TCPControlBits:           b[52],
	}
}

// PutComputedFields writes the fields the byte-move plan never covers
// (they have no counterpart in the wire template, or the template's
// value needs arithmetic applied) directly into a 57-byte record slice.
func PutComputedFields(b []byte, flowID, exporterAddr, startSeconds, endSeconds uint32) {
	le := binary.LittleEndian
	le.PutUint32(b[0:4], flowID)
	le.PutUint32(b[4:8], exporterAddr)
	le.PutUint32(b[36:40], startSeconds)
	le.PutUint32(b[40:44], endSeconds)
}
