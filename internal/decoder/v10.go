package decoder

import (
	"encoding/binary"
	"time"

	"github.com/mikekim/ipfixd/internal/alert"
	"github.com/mikekim/ipfixd/internal/cflowd"
	"github.com/mikekim/ipfixd/internal/template"
)

const (
	v10HeaderSize    = 16
	v10SetHeaderSize = 4
)

type v10Header struct {
	Version           uint16
	TotalLength       uint16
	ExportTimeSeconds uint32
	SequenceNumber    uint32
	ObsDomainID       uint32
}

func parseV10Header(buf []byte) v10Header {
	be := binary.BigEndian
	return v10Header{
		Version:           be.Uint16(buf[0:2]),
		TotalLength:       be.Uint16(buf[2:4]),
		ExportTimeSeconds: be.Uint32(buf[4:8]),
		SequenceNumber:    be.Uint32(buf[8:12]),
		ObsDomainID:       be.Uint32(buf[12:16]),
	}
}

func (d *Decoder) processV10(peerAddr uint32, buf []byte) Output {
	if len(buf) < v10HeaderSize {
		d.Log.Warn("decoder: v10 datagram shorter than header", "port", d.LocalPort, "len", len(buf))
		return Output{}
	}

	hdr := parseV10Header(buf)
	if int(hdr.TotalLength) > len(buf) {
		d.Log.Error("decoder: v10 packet declared length longer than buffer",
			"port", d.LocalPort, "declared", hdr.TotalLength, "have", len(buf))
		return Output{}
	}

	var cflowdBuf []byte
	var ipfixBuf []byte

	offset := v10HeaderSize
	for offset < len(buf) {
		if offset+v10SetHeaderSize > len(buf) {
			d.Log.Error("decoder: v10 truncated set header", "port", d.LocalPort)
			break
		}

		setID := binary.BigEndian.Uint16(buf[offset : offset+2])
		setLen := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		if setLen < v10SetHeaderSize || offset+setLen > len(buf) {
			d.Log.Error("decoder: v10 set length out of range",
				"port", d.LocalPort, "setId", setID, "setLen", setLen)
			break
		}

		setStart := offset + v10SetHeaderSize
		setEnd := offset + setLen

		switch {
		case setID > 255:
			cflowdBuf = d.processV10DataSet(peerAddr, hdr, setID, buf, setStart, setEnd, cflowdBuf)
			if d.Config.WantRawIPFIX {
				ipfixBuf = append(ipfixBuf, buf[setStart:setEnd]...)
			}
		case setID == 2:
			if d.processV10TemplateSet(peerAddr, hdr, false, buf, setStart, setEnd) && d.Config.WantRawIPFIX {
				ipfixBuf = append(ipfixBuf, buf[setStart:setEnd]...)
			}
		case setID == 3:
			if d.processV10TemplateSet(peerAddr, hdr, true, buf, setStart, setEnd) && d.Config.WantRawIPFIX {
				ipfixBuf = append(ipfixBuf, buf[setStart:setEnd]...)
			}
		default:
			// set_id in {0,1,4..255}: reserved, skip.
		}

		offset += setLen
	}

	return Output{Cflowd: cflowdBuf, RawIPFIX: ipfixBuf}
}

// processV10TemplateSet installs (or confirms unchanged) exactly one
// template record starting at buf[start:end], matching the source's
// assumption that a template set carries one template record. It
// returns true when the template was newly installed or replaced
// (i.e. should be copied into the raw-ipfix pass-through image).
func (d *Decoder) processV10TemplateSet(peerAddr uint32, hdr v10Header, isOptions bool, buf []byte, start, end int) bool {
	region := buf[start:end]
	th, rawFields, consumed, err := template.WalkTemplateRecord(region, isOptions, d.Config.EnterpriseBitMode)
	if err != nil {
		d.Log.Error("decoder: v10 malformed template record", "port", d.LocalPort, "error", err.Error())
		return false
	}

	for _, rf := range rawFields {
		if template.AmbiguousID(rf.ID) && d.cache.WarnAmbiguousOnce(rf.ID) {
			d.Log.Warn("decoder: template field id falls in the enterprise-bit-ambiguous range",
				"port", d.LocalPort, "id", rf.ID)
		}
	}

	key := template.Key{
		ExporterAddr:      peerAddr,
		LocalPort:         d.LocalPort,
		ObservationDomain: hdr.ObsDomainID,
		TemplateID:        th.TemplateID,
	}
	canonical := region[:consumed]
	candidate := template.Install(key, canonical, isOptions, rawFields)

	switch d.cache.Put(key, candidate) {
	case template.InstallUnchanged:
		if d.Config.LogUnchangedTemplates {
			d.Log.Info("decoder: template unchanged", "port", d.LocalPort, "key", key.String())
		}
		return false
	case template.InstallReplaced:
		d.Stats.TemplatesInstalled.Add(1)
		d.cache.ForgetUnknown(key)
		d.Log.Info("decoder: template replaced", "port", d.LocalPort, "key", key.String(),
			"fieldCount", len(candidate.FieldList), "cflowdCompat", candidate.CflowdCompat)
		return true
	default: // InstallNew
		d.Stats.TemplatesInstalled.Add(1)
		d.cache.ForgetUnknown(key)
		d.Log.Info("decoder: template installed", "port", d.LocalPort, "key", key.String(),
			"fieldCount", len(candidate.FieldList), "cflowdCompat", candidate.CflowdCompat)
		return true
	}
}

func (d *Decoder) processV10DataSet(peerAddr uint32, hdr v10Header, templateID uint16, buf []byte, start, end int, cflowdBuf []byte) []byte {
	if !d.Config.WantCflowd {
		return cflowdBuf
	}

	key := template.Key{
		ExporterAddr:      peerAddr,
		LocalPort:         d.LocalPort,
		ObservationDomain: hdr.ObsDomainID,
		TemplateID:        templateID,
	}

	t, ok := d.cache.Get(key)
	if !ok {
		if d.cache.UnknownTemplateOnce(key) {
			d.Stats.UnknownTemplateDrops.Add(1)
			d.Log.Error("decoder: template not yet defined", "port", d.LocalPort, "key", key.String())
			d.sendAlert(alert.Event{
				Kind: "unknown_template", Port: d.LocalPort, ExporterAddr: peerAddrString(peerAddr),
				Message: "IPFIX data set references template not yet defined: " + key.String(),
				TimestampUTC: time.Now().Unix(),
			})
		}
		return cflowdBuf
	}
	if !t.CflowdCompat {
		return cflowdBuf
	}

	recSize := t.InputRecordSize
	if recSize <= 0 {
		return cflowdBuf
	}
	count := (end - start) / recSize
	if count == 0 {
		return cflowdBuf
	}

	startMsOff, _, haveStart := t.FieldOffset("flowStartMilliseconds")
	endMsOff, _, haveEnd := t.FieldOffset("flowEndMilliseconds")
	if !haveStart || !haveEnd {
		return cflowdBuf
	}

	d.trackV10Sequence(peerAddr, t, hdr.SequenceNumber, count)

	base := len(cflowdBuf)
	cflowdBuf = append(cflowdBuf, make([]byte, count*cflowd.RecordSize)...)

	for i := 0; i < count; i++ {
		inOff := start + i*recSize
		outOff := base + i*cflowd.RecordSize

		t.Plan.Apply(buf, inOff, cflowdBuf, outOff)
		if bad := t.Plan.NonZeroCheckFailures(buf, inOff); len(bad) > 0 {
			d.Stats.TruncationWarnings.Add(1)
			for _, z := range bad {
				name, _ := t.FieldAt(z)
				d.Log.Error("decoder: unexpected non-zero byte truncated in IPFIX record",
					"port", d.LocalPort, "key", key.String(), "field", name)
			}
			d.sendAlert(alert.Event{
				Kind: "truncation", Port: d.LocalPort, ExporterAddr: peerAddrString(peerAddr),
				Message: "unexpected non-zero byte truncated in IPFIX record: " + key.String(),
				Count:   uint64(len(bad)), TimestampUTC: time.Now().Unix(),
			})
		}

		startMs := binary.BigEndian.Uint64(buf[inOff+startMsOff : inOff+startMsOff+8])
		endMs := binary.BigEndian.Uint64(buf[inOff+endMsOff : inOff+endMsOff+8])
		flowID := hdr.SequenceNumber + uint32(i)

		cflowd.PutComputedFields(cflowdBuf[outOff:outOff+cflowd.RecordSize],
			flowID, peerAddr, uint32(startMs/1000), uint32(endMs/1000))

		if d.Config.LogDatarec {
			d.Log.Trace("decoder: v10 record", "port", d.LocalPort, "key", key.String(), "flowId", flowID)
		}
	}

	d.Stats.RecordsDecoded.Add(int64(count))
	return cflowdBuf
}

// trackV10Sequence implements the unconditional expected_flow_id
// update (both v5 and v10 update unconditionally in this design; only
// the log is gated on LogMissingFull — see DESIGN.md on this
// deliberate deviation from the source's v5-only-conditional behavior).
func (d *Decoder) trackV10Sequence(peerAddr uint32, t *template.Template, sequenceNumber uint32, count int) {
	expected := t.LastFlowInfo.ExpectedFlowID
	received := uint64(sequenceNumber)

	if !t.LastFlowInfo.Initialized {
		t.LastFlowInfo.Initialized = true
		expected = received
	}

	if d.Config.LogMissingFull && received != expected && received > expected {
		d.Stats.SequenceGaps.Add(1)
		d.Log.Error("decoder: v10 missing flows",
			"port", d.LocalPort, "key", t.Key.String(), "expected", expected, "got", received, "lost", received-expected)
		d.sendAlert(alert.Event{
			Kind: "sequence_gap", Port: d.LocalPort, ExporterAddr: peerAddrString(peerAddr),
			Message: "IPFIX missing flows: " + t.Key.String(), Count: received - expected, TimestampUTC: time.Now().Unix(),
		})
	}

	t.LastFlowInfo.ExpectedFlowID = received + uint64(count)
}
