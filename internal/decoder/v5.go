package decoder

import (
	"encoding/binary"
	"time"

	"github.com/mikekim/ipfixd/internal/alert"
	"github.com/mikekim/ipfixd/internal/cflowd"
	"github.com/mikekim/ipfixd/internal/netflow5"
	"github.com/mikekim/ipfixd/internal/template"
)

// v5Plan is the fixed byte-move plan from a NetFlow v5 record to a
// cflowd record, built once at package init since the v5 layout never
// changes (unlike IPFIX, v5 carries no templates).
var v5Plan = buildV5Plan()

func buildV5Plan() *template.BytemovePlan {
	input := make([]template.InputField, 0, len(netflow5.RecordFieldOffsets))
	for _, f := range netflow5.RecordFieldOffsets {
		input = append(input, template.InputField{Name: f.Name, Offset: f.Offset, Length: f.Length})
	}
	plan, err := template.BuildBytemovePlan(input, netflow5.RecordSize)
	if err != nil {
		// The v5 record layout is fixed and known-good; a failure here
		// means the layout table itself is broken.
		panic("decoder: building v5 byte-move plan: " + err.Error())
	}
	return plan
}

func (d *Decoder) processV5(peerAddr uint32, buf []byte) Output {
	if len(buf) < netflow5.HeaderSize {
		d.Log.Warn("decoder: v5 datagram shorter than header", "port", d.LocalPort, "len", len(buf))
		return Output{}
	}

	hdr := netflow5.ParseHeader(buf)
	need := netflow5.HeaderSize + int(hdr.Count)*netflow5.RecordSize
	if need > len(buf) {
		d.Log.Warn("decoder: v5 datagram shorter than header.count implies",
			"port", d.LocalPort, "count", hdr.Count, "have", len(buf), "want", need)
		return Output{}
	}

	var out Output
	if d.Config.WantRawIPFIX {
		out.RawIPFIX = append([]byte(nil), buf[:need]...)
	}
	if !d.Config.WantCflowd || hdr.Count == 0 {
		return out
	}

	d.trackV5Sequence(peerAddr, hdr)

	cflowdBuf := make([]byte, int(hdr.Count)*cflowd.RecordSize)
	startOff, _, _ := netflow5.FieldOffset("flowStartSysUpTime")
	endOff, _, _ := netflow5.FieldOffset("flowEndSysUpTime")

	for i := 0; i < int(hdr.Count); i++ {
		inOff := netflow5.HeaderSize + i*netflow5.RecordSize
		outOff := i * cflowd.RecordSize

		v5Plan.Apply(buf, inOff, cflowdBuf, outOff)
		if bad := v5Plan.NonZeroCheckFailures(buf, inOff); len(bad) > 0 {
			d.Stats.TruncationWarnings.Add(1)
			d.Log.Error("decoder: unexpected non-zero byte truncated in NetFlow v5 record",
				"port", d.LocalPort, "record", i)
			d.sendAlert(alert.Event{
				Kind: "truncation", Port: d.LocalPort, ExporterAddr: peerAddrString(peerAddr),
				Message: "unexpected non-zero byte truncated in NetFlow v5 record",
				Count:   uint64(len(bad)), TimestampUTC: time.Now().Unix(),
			})
		}

		startUp := binary.BigEndian.Uint32(buf[inOff+startOff : inOff+startOff+4])
		endUp := binary.BigEndian.Uint32(buf[inOff+endOff : inOff+endOff+4])
		startSeconds := hdr.UnixSeconds - (hdr.SysUpTimeMilliseconds-startUp)/1000
		endSeconds := hdr.UnixSeconds - (hdr.SysUpTimeMilliseconds-endUp)/1000
		flowID := hdr.FlowSequence + uint32(i)

		cflowd.PutComputedFields(cflowdBuf[outOff:outOff+cflowd.RecordSize], flowID, peerAddr, startSeconds, endSeconds)

		if d.Config.LogDatarec {
			d.Log.Trace("decoder: v5 record", "port", d.LocalPort, "flowId", flowID)
		}
	}

	d.Stats.RecordsDecoded.Add(int64(hdr.Count))
	out.Cflowd = cflowdBuf
	return out
}

// trackV5Sequence implements the spec's unconditional expected_flow_id
// update for v5: the gap log is gated on LogMissingFull, but the
// expected value always advances by header.Count.
func (d *Decoder) trackV5Sequence(peerAddr uint32, hdr netflow5.Header) {
	key := v5FlowKey{ExporterAddr: peerAddr, LocalPort: d.LocalPort}
	info, ok := d.v5Flows[key]
	if !ok {
		info = &template.LastFlowInfo{ExpectedFlowID: uint64(hdr.FlowSequence), Initialized: true}
		d.v5Flows[key] = info
	}

	expected := info.ExpectedFlowID
	received := uint64(hdr.FlowSequence)

	if d.Config.LogMissingFull && received != expected && received > expected {
		d.Stats.SequenceGaps.Add(1)
		d.Log.Error("decoder: v5 missing flows",
			"port", d.LocalPort, "expected", expected, "got", received, "lost", received-expected)
		d.sendAlert(alert.Event{
			Kind: "sequence_gap", Port: d.LocalPort, ExporterAddr: peerAddrString(peerAddr),
			Message: "NetFlow v5 missing flows", Count: received - expected, TimestampUTC: time.Now().Unix(),
		})
	}

	info.ExpectedFlowID = received + uint64(hdr.Count)
}
