// Package netflow5 decodes the NetFlow v5 wire format: a 24-byte
// network-byte-order header followed by fixed 48-byte flow records.
package netflow5

import "encoding/binary"

// HeaderSize is the fixed NetFlow v5 header length.
const HeaderSize = 24

// RecordSize is the fixed NetFlow v5 flow record length.
const RecordSize = 48

// Header is the decoded 24-byte v5 header. Field naming follows the
// IPFIX-flavored names used elsewhere in this codebase rather than the
// classic C struct names, since the same millisecond uptime value is
// referred to both ways in the wild: this is sysUpTime in millisecond
// units, present in the header as both an uptime delta and (separately)
// as wall-clock seconds.
type Header struct {
	Version               uint16
	Count                 uint16
	SysUpTimeMilliseconds uint32 // time since device boot, in ms
	UnixSeconds           uint32 // wall-clock seconds at export
	FlowSequence          uint32 // first record's sequence number
}

// ParseHeader reads the 24-byte v5 header from b. Caller must ensure
// len(b) >= HeaderSize.
func ParseHeader(b []byte) Header {
	be := binary.BigEndian
	return Header{
		Version:               be.Uint16(b[0:2]),
		Count:                 be.Uint16(b[2:4]),
		SysUpTimeMilliseconds: be.Uint32(b[4:8]),
		UnixSeconds:           be.Uint32(b[8:12]),
		FlowSequence:          be.Uint32(b[16:20]),
		// bytes 12:16 carry flowStartNanoseconds residual, unused by
		// this collector; bytes 20:24 are reserved padding.
	}
}

// RecordFieldOffsets gives the byte offset of each named field within
// one 48-byte v5 record, in wire order. Exported so the byte-move
// planner can build an input-side layout for v5 without duplicating
// the offsets here.
var RecordFieldOffsets = buildRecordOffsets()

// RecordField names one field in the 48-byte v5 record.
type RecordField struct {
	Name   string
	Offset int
	Length int
}

func buildRecordOffsets() []RecordField {
	fields := []struct {
		name string
		size int
	}{
		{"sourceIPv4Address", 4},
		{"destinationIPv4Address", 4},
		{"ipNextHopIPv4Address", 4},
		{"ingressInterface", 2},
		{"egressInterface", 2},
		{"packetDeltaCount", 4},
		{"octetDeltaCount", 4},
		{"flowStartSysUpTime", 4},
		{"flowEndSysUpTime", 4},
		{"sourceTransportPort", 2},
		{"destinationTransportPort", 2},
		{"", 1}, // paddingOctets
		{"tcpControlBits", 1},
		{"protocolIdentifier", 1},
		{"ipClassOfService", 1},
		{"bgpSourceAsNumber", 2},
		{"bgpDestinationAsNumber", 2},
		{"sourceIPv4PrefixLength", 1},
		{"destinationIPv4PrefixLength", 1},
		{"", 2}, // paddingOctets
	}
	out := make([]RecordField, 0, len(fields))
	offset := 0
	for _, f := range fields {
		if f.name != "" {
			out = append(out, RecordField{Name: f.name, Offset: offset, Length: f.size})
		}
		offset += f.size
	}
	return out
}

// flowStartSysUpTime / flowEndSysUpTime are read directly out of the
// record by the decoder (not through the byte-move plan, since they
// feed an arithmetic expression rather than a straight copy); expose
// their offsets by name lookup for that purpose.
func FieldOffset(name string) (offset, length int, ok bool) {
	for _, f := range RecordFieldOffsets {
		if f.Name == name {
			return f.Offset, f.Length, true
		}
	}
	return 0, 0, false
}
