package template

import (
	"fmt"

	"github.com/mikekim/ipfixd/internal/cflowd"
)

// InputField names one field of a wire-format input record (an IPFIX
// template's data layout, or the fixed NetFlow v5 record layout) by
// name, offset, and byte length within that input record.
type InputField struct {
	Name   string
	Offset int
	Length int
}

// BytemovePlan is the precomputed transcoding plan from an input record
// layout to the 57-byte cflowd record: a flat pair of integer vectors
// plus the positions that must be verified zero when a wire field is
// wider than its cflowd counterpart. It is immutable after
// construction; replacing a template's layout builds a new plan rather
// than mutating this one in place.
type BytemovePlan struct {
	InIdx           []int
	OutIdx          []int
	CheckForZero    []int
	InputRecordSize int
}

// Apply transcodes one input record into a cflowd output record
// (assumed to already be zero-initialized for fields the plan doesn't
// cover). Caller must size in/out to at least InputRecordSize and
// cflowd.RecordSize respectively, at the given offsets.
func (p *BytemovePlan) Apply(in []byte, inOff int, out []byte, outOff int) {
	for k := range p.InIdx {
		out[outOff+p.OutIdx[k]] = in[inOff+p.InIdx[k]]
	}
}

// NonZeroCheckFailures scans the CheckForZero positions of one input
// record and returns the (zero-based, relative-to-record) offsets where
// a supposedly-discarded high-order byte was actually non-zero —
// i.e. where truncation silently lost data.
func (p *BytemovePlan) NonZeroCheckFailures(in []byte, inOff int) []int {
	var bad []int
	for _, z := range p.CheckForZero {
		if in[inOff+z] != 0 {
			bad = append(bad, z)
		}
	}
	return bad
}

// BuildBytemovePlan constructs the byte-move plan from an input record
// layout to the cflowd record layout. For each cflowd output field
// present in the input layout by name, it computes the effective
// length (min of input/output length), reverses the input byte order
// for widths >= 2 bytes (the network-order-to-host-little-endian flip),
// and records skipped high-order input bytes in CheckForZero when the
// input field is wider than its cflowd counterpart.
func BuildBytemovePlan(input []InputField, inputRecordSize int) (*BytemovePlan, error) {
	byName := make(map[string]InputField, len(input))
	for _, f := range input {
		byName[f.Name] = f
	}

	plan := &BytemovePlan{InputRecordSize: inputRecordSize}

	for _, out := range cflowd.Layout {
		in, present := byName[out.Name]
		if !present {
			continue // field absent from this template; left zero in output
		}

		inLen, outLen := in.Length, out.Length
		effLen := inLen
		inSkip := 0
		if inLen != outLen {
			if effLen > outLen {
				effLen = outLen
			}
			if inLen > outLen {
				inSkip = inLen - outLen
				for i := 0; i < inSkip; i++ {
					plan.CheckForZero = append(plan.CheckForZero, in.Offset+i)
				}
			}
		}

		switch effLen {
		case 1:
			plan.InIdx = append(plan.InIdx, in.Offset+inSkip)
			plan.OutIdx = append(plan.OutIdx, out.Offset)
		case 2, 4, 8:
			for i := effLen - 1; i >= 0; i-- {
				plan.InIdx = append(plan.InIdx, inSkip+in.Offset+i)
			}
			for i := 0; i < effLen; i++ {
				plan.OutIdx = append(plan.OutIdx, out.Offset+i)
			}
		default:
			return nil, fmt.Errorf("template: field %q has unsupported effective width %d", out.Name, effLen)
		}
	}

	return plan, nil
}
