package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/mikekim/ipfixd/internal/cflowd"
	"github.com/mikekim/ipfixd/internal/logger"
	"github.com/mikekim/ipfixd/internal/netflow5"
)

func testLogger() *logger.Logger {
	l, err := logger.New(logger.Config{Console: logger.ConsoleConfig{Enabled: true, Level: "error", Format: "text"}})
	if err != nil {
		panic(err)
	}
	return l
}

// buildV5Datagram builds a header plus count records, each record's
// sourceIPv4Address set to seed+i so records are distinguishable, and
// flowStartSysUpTime/flowEndSysUpTime set up as sysUpTime - 2000/1000ms
// so the computed flowStartSeconds/flowEndSeconds land just under the
// header's unix seconds.
func buildV5Datagram(count uint16, flowSequence, sysUpTime, unixSeconds uint32, seed uint32) []byte {
	be := binary.BigEndian
	buf := make([]byte, netflow5.HeaderSize+int(count)*netflow5.RecordSize)
	be.PutUint16(buf[0:2], 5)
	be.PutUint16(buf[2:4], count)
	be.PutUint32(buf[4:8], sysUpTime)
	be.PutUint32(buf[8:12], unixSeconds)
	be.PutUint32(buf[16:20], flowSequence)

	for i := 0; i < int(count); i++ {
		off := netflow5.HeaderSize + i*netflow5.RecordSize
		rec := buf[off : off+netflow5.RecordSize]
		be.PutUint32(rec[0:4], seed+uint32(i))    // sourceIPv4Address
		be.PutUint32(rec[4:8], 0x0a0a0a01)        // destinationIPv4Address
		be.PutUint16(rec[12:14], 1)               // ingressInterface
		be.PutUint16(rec[14:16], 2)               // egressInterface
		be.PutUint32(rec[16:20], 10)               // packetDeltaCount
		be.PutUint32(rec[20:24], 1500)             // octetDeltaCount
		be.PutUint32(rec[24:28], sysUpTime-2000)  // flowStartSysUpTime
		be.PutUint32(rec[28:32], sysUpTime-1000)  // flowEndSysUpTime
		be.PutUint16(rec[32:34], 443)
		be.PutUint16(rec[34:36], 12345)
		rec[37] = 0x10 // tcpControlBits
		rec[38] = 6    // protocolIdentifier (TCP)
	}
	return buf
}

func TestProcessV5ProducesCflowd(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())
	buf := buildV5Datagram(2, 100, 60000, 1700000000, 0x0a000001)

	out := d.Process(0x0a0a0a01, buf)
	if out.RawIPFIX != nil {
		t.Error("RawIPFIX should be nil when WantRawIPFIX is false")
	}
	if len(out.Cflowd) != 2*cflowd.RecordSize {
		t.Fatalf("Cflowd has %d bytes, want %d", len(out.Cflowd), 2*cflowd.RecordSize)
	}

	rec0 := cflowd.Unpack(out.Cflowd[0:cflowd.RecordSize])
	if rec0.SourceIPv4Address != 0x0a000001 {
		t.Errorf("record 0 SourceIPv4Address = %#x, want %#x", rec0.SourceIPv4Address, 0x0a000001)
	}
	if rec0.FlowID != 100 {
		t.Errorf("record 0 FlowID = %d, want 100", rec0.FlowID)
	}
	if rec0.ExporterIPv4Address != 0x0a0a0a01 {
		t.Errorf("record 0 ExporterIPv4Address = %#x, want %#x", rec0.ExporterIPv4Address, 0x0a0a0a01)
	}
	if rec0.ProtocolIdentifier != 6 {
		t.Errorf("record 0 ProtocolIdentifier = %d, want 6", rec0.ProtocolIdentifier)
	}

	rec1 := cflowd.Unpack(out.Cflowd[cflowd.RecordSize : 2*cflowd.RecordSize])
	if rec1.FlowID != 101 {
		t.Errorf("record 1 FlowID = %d, want 101 (flowSequence + index)", rec1.FlowID)
	}
	if rec1.SourceIPv4Address != 0x0a000002 {
		t.Errorf("record 1 SourceIPv4Address = %#x, want %#x", rec1.SourceIPv4Address, 0x0a000002)
	}

	if d.Stats.PacketsDecoded.Load() != 1 {
		t.Errorf("PacketsDecoded = %d, want 1", d.Stats.PacketsDecoded.Load())
	}
	if d.Stats.RecordsDecoded.Load() != 2 {
		t.Errorf("RecordsDecoded = %d, want 2", d.Stats.RecordsDecoded.Load())
	}
}

func TestProcessV5RawIPFIXOnly(t *testing.T) {
	d := New(9996, Config{WantRawIPFIX: true}, testLogger())
	buf := buildV5Datagram(1, 1, 1000, 1700000000, 0x0a000001)

	out := d.Process(0x0a0a0a01, buf)
	if out.Cflowd != nil {
		t.Error("Cflowd should be nil when WantCflowd is false")
	}
	if len(out.RawIPFIX) != len(buf) {
		t.Fatalf("RawIPFIX has %d bytes, want %d", len(out.RawIPFIX), len(buf))
	}
}

func TestProcessV5TooShortHeader(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())
	out := d.Process(1, []byte{0, 5, 0, 1})
	if out.Cflowd != nil || out.RawIPFIX != nil {
		t.Error("a too-short v5 datagram should produce empty output")
	}
}

func TestProcessV5CountExceedsBuffer(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())
	buf := buildV5Datagram(3, 1, 1000, 1700000000, 1)
	truncated := buf[:netflow5.HeaderSize+netflow5.RecordSize] // claims 3 records, carries 1
	binary.BigEndian.PutUint16(truncated[2:4], 3)

	out := d.Process(1, truncated)
	if out.Cflowd != nil {
		t.Error("a datagram shorter than header.count implies should produce no output")
	}
}

func TestProcessV5UnsupportedVersion(t *testing.T) {
	d := New(9996, Config{WantCflowd: true}, testLogger())
	buf := make([]byte, netflow5.HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], 9)

	out := d.Process(1, buf)
	if out.Cflowd != nil || out.RawIPFIX != nil {
		t.Error("an unsupported version should produce empty output")
	}
	if d.Stats.UnsupportedVersions.Load() != 1 {
		t.Errorf("UnsupportedVersions = %d, want 1", d.Stats.UnsupportedVersions.Load())
	}
}

func TestProcessV5SequenceGapAdvancesUnconditionally(t *testing.T) {
	d := New(9996, Config{WantCflowd: true, LogMissingFull: true}, testLogger())

	d.Process(5, buildV5Datagram(2, 0, 1000, 1700000000, 1))
	if d.Stats.SequenceGaps.Load() != 0 {
		t.Fatalf("first datagram should not register a gap, got %d", d.Stats.SequenceGaps.Load())
	}

	// Next datagram's FlowSequence jumps from the expected 2 to 10: a gap.
	d.Process(5, buildV5Datagram(1, 10, 2000, 1700000010, 1))
	if d.Stats.SequenceGaps.Load() != 1 {
		t.Errorf("SequenceGaps = %d, want 1 after a jump", d.Stats.SequenceGaps.Load())
	}

	key := v5FlowKey{ExporterAddr: 5, LocalPort: 9996}
	if d.v5Flows[key].ExpectedFlowID != 11 {
		t.Errorf("ExpectedFlowID = %d, want 11 (advances regardless of LogMissingFull)", d.v5Flows[key].ExpectedFlowID)
	}
}

func TestProcessV5SequenceGapNotLoggedWhenDisabled(t *testing.T) {
	d := New(9996, Config{WantCflowd: true, LogMissingFull: false}, testLogger())

	d.Process(5, buildV5Datagram(1, 0, 1000, 1700000000, 1))
	d.Process(5, buildV5Datagram(1, 50, 2000, 1700000010, 1))

	// expected_flow_id must still advance even though the gap log is
	// suppressed by LogMissingFull=false.
	key := v5FlowKey{ExporterAddr: 5, LocalPort: 9996}
	if d.v5Flows[key].ExpectedFlowID != 51 {
		t.Errorf("ExpectedFlowID = %d, want 51", d.v5Flows[key].ExpectedFlowID)
	}
	if d.Stats.SequenceGaps.Load() != 0 {
		t.Errorf("SequenceGaps = %d, want 0 when LogMissingFull is false", d.Stats.SequenceGaps.Load())
	}
}
