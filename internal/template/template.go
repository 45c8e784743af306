// Package template models IPFIX templates: installation from a wire
// template set, canonicalization for unchanged-template detection, the
// per-exporter template cache, and (via byteplan.go) the byte-move
// plan that transcodes a template's data records to cflowd.
package template

import (
	"encoding/binary"
	"fmt"

	"github.com/mikekim/ipfixd/internal/fieldcat"
)

// EnterpriseBitMode selects which bit of an IPFIX field id is treated
// as marking an enterprise-scoped element, carrying an extra 4-byte
// enterprise number in the template. RFC 7011 defines this as the
// top bit (id & 0x8000); the reference implementation this collector
// is descended from instead tested id > 0x1000 in both the code path
// that walks a template's bytes and the one that installs it. Real
// exporters are what decide which is "correct" in practice, so both
// are offered.
type EnterpriseBitMode int

const (
	// EnterpriseBitThreshold1000 matches the reference implementation:
	// any id > 0x1000 is treated as enterprise-scoped. This is the
	// default.
	EnterpriseBitThreshold1000 EnterpriseBitMode = iota
	// EnterpriseBitMask8000 follows RFC 7011 literally: only id with
	// the top bit set (id & 0x8000 != 0) is enterprise-scoped.
	EnterpriseBitMask8000
)

// IsEnterprise reports whether id should be treated as carrying a
// trailing 4-byte enterprise number under the given mode.
func (m EnterpriseBitMode) IsEnterprise(id uint16) bool {
	switch m {
	case EnterpriseBitMask8000:
		return id&0x8000 != 0
	default:
		return id > 0x1000
	}
}

// AmbiguousID reports whether id falls in [0x1000, 0x8000), the range
// around where the two enterprise-bit interpretations disagree (they
// differ for (0x1000, 0x8000); both treat 0x1000 itself as not
// enterprise, but it is included as the threshold boundary); callers
// use this to log a one-time warning per spec's open question.
func AmbiguousID(id uint16) bool {
	return id >= 0x1000 && id < 0x8000
}

// Key identifies a template uniquely: the exporter that sent it, the
// local UDP port it arrived on (a single daemon process can listen on
// several ports with overlapping exporter/domain combinations), the
// observation domain, and the template id itself.
type Key struct {
	ExporterAddr       uint32
	LocalPort          uint16
	ObservationDomain  uint32
	TemplateID         uint16
}

func (k Key) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d/%d/%d",
		byte(k.ExporterAddr>>24), byte(k.ExporterAddr>>16), byte(k.ExporterAddr>>8), byte(k.ExporterAddr),
		k.LocalPort, k.ObservationDomain, k.TemplateID)
}

// Field is one resolved field of an installed template: its catalog
// name, its byte length as declared by the wire template (which may
// differ from the catalog's standard length for a field — templates
// are authoritative), and its offset within one data record.
type Field struct {
	Name     string
	Length   int
	InOffset int
}

// Template is an installed IPFIX template (or options template).
// Everything except LastFlowInfo is immutable after Install; a changed
// template is a brand new *Template value, never a mutation of this
// one (callers holding a pointer to a stale Template keep seeing the
// old byte_move_plan until they re-fetch from the Cache).
type Template struct {
	Key             Key
	RawBytes        []byte // canonical bytes, from header through last field descriptor
	FieldList       []Field
	InputRecordSize int
	Plan            *BytemovePlan // nil when !CflowdCompat
	CflowdCompat    bool
	IsOptions       bool

	LastFlowInfo LastFlowInfo
}

// LastFlowInfo is per-template sequence-gap tracking state, carried
// forward across Install calls that replace the template (a template
// rebuild shouldn't reset loss detection for the exporter stream).
type LastFlowInfo struct {
	ExpectedFlowID uint64
	Initialized    bool
}

// RawField is one field descriptor as read off the wire: an element
// id (with the enterprise bit, if any, already identified) and its
// declared length.
type RawField struct {
	ID               uint16
	Length           int
	Enterprise       bool
	EnterpriseNumber uint32
}

// ParsedTemplateHeader is the decoded head of one template record
// within a template (or options template) set.
type ParsedTemplateHeader struct {
	TemplateID      uint16
	FieldCount      int
	ScopeFieldCount int // 0 for data templates
}

// WalkTemplateRecord reads one template record starting at buf[0]:
// the 4-byte (data template) or 6-byte (options template) header,
// then FieldCount field descriptors (4 bytes, or 8 if enterprise-
// scoped under mode). It returns the header, the resolved fields, and
// the number of bytes consumed — computed by walking descriptors, not
// by trusting any outer declared set length, because some exporters
// pad a template set with trailing non-zero bytes the set length
// includes but field-walking never visits.
func WalkTemplateRecord(buf []byte, isOptions bool, mode EnterpriseBitMode) (ParsedTemplateHeader, []RawField, int, error) {
	headerLen := 4
	if isOptions {
		headerLen = 6
	}
	if len(buf) < headerLen {
		return ParsedTemplateHeader{}, nil, 0, fmt.Errorf("template: short header, have %d want %d", len(buf), headerLen)
	}

	be := binary.BigEndian
	h := ParsedTemplateHeader{
		TemplateID: be.Uint16(buf[0:2]),
		FieldCount: int(be.Uint16(buf[2:4])),
	}
	if isOptions {
		h.ScopeFieldCount = int(be.Uint16(buf[4:6]))
	}

	offset := headerLen
	fields := make([]RawField, 0, h.FieldCount)
	for i := 0; i < h.FieldCount; i++ {
		if offset+4 > len(buf) {
			return h, nil, 0, fmt.Errorf("template: truncated field descriptor %d of %d", i, h.FieldCount)
		}
		id := be.Uint16(buf[offset : offset+2])
		length := int(be.Uint16(buf[offset+2 : offset+4]))
		offset += 4

		rf := RawField{ID: id, Length: length}
		if mode.IsEnterprise(id) {
			if offset+4 > len(buf) {
				return h, nil, 0, fmt.Errorf("template: truncated enterprise number for field %d", i)
			}
			rf.Enterprise = true
			rf.EnterpriseNumber = be.Uint32(buf[offset : offset+4])
			offset += 4
		}
		fields = append(fields, rf)
	}

	return h, fields, offset, nil
}

// Install resolves raw field descriptors against the field catalog,
// builds the field list and (if eligible) the byte-move plan, and
// produces a ready-to-cache Template. canonical is the exact byte
// range WalkTemplateRecord consumed — the canonicalization extent used
// for unchanged-template detection, independent of any declared set
// length.
func Install(key Key, canonical []byte, isOptions bool, rawFields []RawField) *Template {
	fieldList := make([]Field, 0, len(rawFields))
	inputFields := make([]InputField, 0, len(rawFields))
	offset := 0
	haveStart, haveEnd := false, false

	for _, rf := range rawFields {
		name := "RESERVED"
		length := rf.Length
		if !rf.Enterprise {
			f := fieldcat.ByID(rf.ID)
			if f.Name != "" {
				name = f.Name
			}
		}
		if name == "flowStartMilliseconds" {
			haveStart = true
		}
		if name == "flowEndMilliseconds" {
			haveEnd = true
		}

		fieldList = append(fieldList, Field{Name: name, Length: length, InOffset: offset})
		if name != "RESERVED" {
			inputFields = append(inputFields, InputField{Name: name, Offset: offset, Length: length})
		}
		offset += length
	}

	t := &Template{
		Key:             key,
		RawBytes:        append([]byte(nil), canonical...),
		FieldList:       fieldList,
		InputRecordSize: offset,
		IsOptions:       isOptions,
		CflowdCompat:    !isOptions && haveStart && haveEnd,
	}

	if t.CflowdCompat {
		if plan, err := BuildBytemovePlan(inputFields, offset); err == nil {
			t.Plan = plan
		} else {
			t.CflowdCompat = false
		}
	}

	return t
}

// Unchanged reports whether candidate canonical bytes match an already
// installed template's RawBytes exactly — the idempotent-install check.
func (t *Template) Unchanged(canonical []byte) bool {
	if len(t.RawBytes) != len(canonical) {
		return false
	}
	for i := range canonical {
		if t.RawBytes[i] != canonical[i] {
			return false
		}
	}
	return true
}

// FieldAt returns the name of the field owning byte offset z within
// one input record, used to attribute a data-loss diagnostic to a
// field name.
func (t *Template) FieldAt(z int) (string, bool) {
	for _, f := range t.FieldList {
		if z >= f.InOffset && z < f.InOffset+f.Length {
			return f.Name, true
		}
	}
	return "", false
}

// FieldOffset returns the offset and length of a named field within
// one input (wire) record, for callers that need to read a field's raw
// bytes directly rather than through the byte-move plan (timestamps,
// which need arithmetic, not a straight copy).
func (t *Template) FieldOffset(name string) (offset, length int, ok bool) {
	for _, f := range t.FieldList {
		if f.Name == name {
			return f.InOffset, f.Length, true
		}
	}
	return 0, 0, false
}
