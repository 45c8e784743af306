package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/mikekim/ipfixd/internal/cflowd"
)

// fieldSpec is one id/length pair used to build a synthetic template
// record by hand.
type fieldSpec struct {
	id     uint16
	length uint16
}

func buildV10TemplateSet(templateID uint16, fields []fieldSpec) []byte {
	be := binary.BigEndian
	recLen := 4 + 4*len(fields)
	setLen := v10SetHeaderSize + recLen
	buf := make([]byte, setLen)
	be.PutUint16(buf[0:2], 2) // set id 2: template set
	be.PutUint16(buf[2:4], uint16(setLen))
	be.PutUint16(buf[4:6], templateID)
	be.PutUint16(buf[6:8], uint16(len(fields)))
	off := 8
	for _, f := range fields {
		be.PutUint16(buf[off:off+2], f.id)
		be.PutUint16(buf[off+2:off+4], f.length)
		off += 4
	}
	return buf
}

func buildV10DataSet(templateID uint16, records [][]byte) []byte {
	be := binary.BigEndian
	var body []byte
	for _, r := range records {
		body = append(body, r...)
	}
	setLen := v10SetHeaderSize + len(body)
	buf := make([]byte, v10SetHeaderSize, setLen)
	be.PutUint16(buf[0:2], templateID)
	be.PutUint16(buf[2:4], uint16(setLen))
	buf = append(buf, body...)
	return buf
}

func buildV10Header(totalLength uint16, exportTime, sequenceNumber, obsDomain uint32) []byte {
	be := binary.BigEndian
	buf := make([]byte, v10HeaderSize)
	be.PutUint16(buf[0:2], 10)
	be.PutUint16(buf[2:4], totalLength)
	be.PutUint32(buf[4:8], exportTime)
	be.PutUint32(buf[8:12], sequenceNumber)
	be.PutUint32(buf[12:16], obsDomain)
	return buf
}

// cflowdCompatRecord builds one 20-byte data record matching the
// sourceIPv4Address(4)+flowStartMilliseconds(8)+flowEndMilliseconds(8)
// template field order below.
func cflowdCompatRecord(sourceAddr uint32, startMs, endMs uint64) []byte {
	be := binary.BigEndian
	rec := make([]byte, 20)
	be.PutUint32(rec[0:4], sourceAddr)
	be.PutUint64(rec[4:12], startMs)
	be.PutUint64(rec[12:20], endMs)
	return rec
}

var cflowdCompatFields = []fieldSpec{
	{id: 8, length: 4},    // sourceIPv4Address
	{id: 152, length: 8},  // flowStartMilliseconds
	{id: 153, length: 8},  // flowEndMilliseconds
}

func TestProcessV10InstallTemplateThenDecode(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())

	templateSet := buildV10TemplateSet(256, cflowdCompatFields)
	dataSet := buildV10DataSet(256, [][]byte{cflowdCompatRecord(0x0a000001, 1700000000123, 1700000000456)})

	totalLen := v10HeaderSize + len(templateSet) + len(dataSet)
	hdr := buildV10Header(uint16(totalLen), 1700000000, 1, 0)
	buf := append(append(append([]byte(nil), hdr...), templateSet...), dataSet...)

	out := d.Process(0x0a0a0a01, buf)
	if d.Stats.TemplatesInstalled.Load() != 1 {
		t.Fatalf("TemplatesInstalled = %d, want 1", d.Stats.TemplatesInstalled.Load())
	}
	// Sets are processed in buffer order: since the template set precedes
	// the data set here, the same Process call already decodes it.
	if len(out.Cflowd) != cflowd.RecordSize {
		t.Fatalf("Cflowd has %d bytes, want %d (template installed earlier in the same datagram)", len(out.Cflowd), cflowd.RecordSize)
	}
	if rec := cflowd.Unpack(out.Cflowd); rec.SourceIPv4Address != 0x0a000001 {
		t.Errorf("SourceIPv4Address = %#x, want %#x", rec.SourceIPv4Address, 0x0a000001)
	}

	// Send a second datagram carrying only a data set: the template
	// cached from the first datagram is reused and the data set decodes.
	dataSet2 := buildV10DataSet(256, [][]byte{cflowdCompatRecord(0x0a000002, 1700000001000, 1700000001500)})
	totalLen2 := v10HeaderSize + len(dataSet2)
	hdr2 := buildV10Header(uint16(totalLen2), 1700000001, 2, 0)
	buf2 := append(append([]byte(nil), hdr2...), dataSet2...)

	out2 := d.Process(0x0a0a0a01, buf2)
	if len(out2.Cflowd) != cflowd.RecordSize {
		t.Fatalf("Cflowd has %d bytes, want %d", len(out2.Cflowd), cflowd.RecordSize)
	}
	rec := cflowd.Unpack(out2.Cflowd)
	if rec.SourceIPv4Address != 0x0a000002 {
		t.Errorf("SourceIPv4Address = %#x, want %#x", rec.SourceIPv4Address, 0x0a000002)
	}
	if rec.FlowID != 2 {
		t.Errorf("FlowID = %d, want 2 (sequence number)", rec.FlowID)
	}
	if rec.FlowStartSeconds != 1700000001 {
		t.Errorf("FlowStartSeconds = %d, want 1700000001", rec.FlowStartSeconds)
	}
}

func TestProcessV10UnknownTemplateDropped(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())

	dataSet := buildV10DataSet(999, [][]byte{cflowdCompatRecord(1, 1, 2)})
	hdr := buildV10Header(uint16(v10HeaderSize+len(dataSet)), 1700000000, 1, 0)
	buf := append(append([]byte(nil), hdr...), dataSet...)

	out := d.Process(1, buf)
	if out.Cflowd != nil {
		t.Error("a data set referencing an unknown template should produce no cflowd output")
	}
	if d.Stats.UnknownTemplateDrops.Load() != 1 {
		t.Errorf("UnknownTemplateDrops = %d, want 1", d.Stats.UnknownTemplateDrops.Load())
	}

	// A second datagram against the same unknown template must not
	// double-count (one-time warning per key).
	d.Process(1, buf)
	if d.Stats.UnknownTemplateDrops.Load() != 1 {
		t.Errorf("UnknownTemplateDrops = %d after repeat, want still 1 (suppressed)", d.Stats.UnknownTemplateDrops.Load())
	}
}

func TestProcessV10NotCflowdCompatibleTemplateSkipped(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())

	// A template with no timestamp fields at all.
	fields := []fieldSpec{{id: 8, length: 4}}
	templateSet := buildV10TemplateSet(257, fields)
	hdr := buildV10Header(uint16(v10HeaderSize+len(templateSet)), 1700000000, 1, 0)
	buf := append(append([]byte(nil), hdr...), templateSet...)
	d.Process(1, buf)

	rec := make([]byte, 4)
	binary.BigEndian.PutUint32(rec, 0x0a000001)
	dataSet := buildV10DataSet(257, [][]byte{rec})
	hdr2 := buildV10Header(uint16(v10HeaderSize+len(dataSet)), 1700000001, 2, 0)
	buf2 := append(append([]byte(nil), hdr2...), dataSet...)

	out := d.Process(1, buf2)
	if out.Cflowd != nil {
		t.Error("a non-cflowd-compatible template's data set must produce no cflowd output")
	}
}

func TestProcessV10SequenceGap(t *testing.T) {
	d := New(9996, Config{WantCflowd: true, LogMissingFull: true}, testLogger())

	templateSet := buildV10TemplateSet(256, cflowdCompatFields)
	hdr := buildV10Header(uint16(v10HeaderSize+len(templateSet)), 1700000000, 1, 0)
	buf := append(append([]byte(nil), hdr...), templateSet...)
	d.Process(1, buf)

	dataSet1 := buildV10DataSet(256, [][]byte{cflowdCompatRecord(1, 1000, 2000)})
	hdr1 := buildV10Header(uint16(v10HeaderSize+len(dataSet1)), 1700000001, 10, 0)
	buf1 := append(append([]byte(nil), hdr1...), dataSet1...)
	d.Process(1, buf1)

	if d.Stats.SequenceGaps.Load() != 0 {
		t.Fatalf("first data set should not register a gap, got %d", d.Stats.SequenceGaps.Load())
	}

	dataSet2 := buildV10DataSet(256, [][]byte{cflowdCompatRecord(1, 1000, 2000)})
	hdr2 := buildV10Header(uint16(v10HeaderSize+len(dataSet2)), 1700000002, 50, 0)
	buf2 := append(append([]byte(nil), hdr2...), dataSet2...)
	d.Process(1, buf2)

	if d.Stats.SequenceGaps.Load() != 1 {
		t.Errorf("SequenceGaps = %d, want 1", d.Stats.SequenceGaps.Load())
	}
}

func TestProcessV10DeclaredLengthExceedsBuffer(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())
	hdr := buildV10Header(9999, 1700000000, 1, 0)
	out := d.Process(1, hdr)
	if out.Cflowd != nil || out.RawIPFIX != nil {
		t.Error("a declared length longer than the buffer should produce empty output")
	}
}
