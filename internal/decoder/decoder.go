// Package decoder turns received UDP datagrams into cflowd and/or
// raw-ipfix output batches: it owns one template.Cache per listening
// port, dispatches each datagram by protocol version, and reports the
// diagnostics (unknown templates, sequence gaps, truncated fields)
// the spec calls for.
package decoder

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/mikekim/ipfixd/internal/alert"
	"github.com/mikekim/ipfixd/internal/logger"
	"github.com/mikekim/ipfixd/internal/template"
)

// Output is what one datagram decodes to. Either slice may be nil —
// a datagram with no cflowd-compatible templates produces no cflowd
// bytes, and raw-ipfix is only populated when requested.
type Output struct {
	Cflowd   []byte
	RawIPFIX []byte
}

// Stats are running counters a metrics exporter can sample. All
// fields are updated with atomic ops so a Decoder can be read from a
// metrics goroutine while the owning pipeline goroutine keeps decoding.
type Stats struct {
	PacketsDecoded       atomic.Int64
	RecordsDecoded       atomic.Int64
	TemplatesInstalled   atomic.Int64
	TemplatesUnchanged   atomic.Int64
	SequenceGaps         atomic.Int64
	UnknownTemplateDrops atomic.Int64
	TruncationWarnings   atomic.Int64
	UnsupportedVersions  atomic.Int64
}

// Config controls the optional behaviors that aren't implied by the
// wire format itself.
type Config struct {
	// WantCflowd and WantRawIPFIX select which output(s) to produce;
	// a port can be configured to emit either, both, or (degenerate
	// but legal) neither.
	WantCflowd   bool
	WantRawIPFIX bool

	// EnterpriseBitMode selects the enterprise-bit interpretation used
	// when walking template field descriptors (see the template
	// package's doc comment on the open question this resolves).
	EnterpriseBitMode template.EnterpriseBitMode

	// LogMissingFull gates the missing-flows error log on a sequence
	// gap; expected_flow_id is always advanced regardless of this flag.
	LogMissingFull bool

	// LogUnchangedTemplates logs every template re-install that turns
	// out to be byte-identical to what's cached, at info level.
	LogUnchangedTemplates bool

	// LogDatarec traces every decoded record at trace level; expensive,
	// off by default.
	LogDatarec bool

	// Alert, if non-nil, receives one Event per sequence gap, unknown
	// template, and truncated field, in addition to the stats counter
	// and log line each already produces.
	Alert *alert.Alerter
}

// Decoder is the per-port decode state: one template.Cache plus the
// v5 sequence-tracking map, since v5 has no templates to hang that
// state off of.
type Decoder struct {
	LocalPort uint16
	Config    Config
	Log       *logger.Logger
	Stats     Stats

	cache   *template.Cache
	v5Flows map[v5FlowKey]*template.LastFlowInfo
}

type v5FlowKey struct {
	ExporterAddr uint32
	LocalPort    uint16
}

// New returns a Decoder for one listening port.
func New(localPort uint16, cfg Config, log *logger.Logger) *Decoder {
	return &Decoder{
		LocalPort: localPort,
		Config:    cfg,
		Log:       log,
		cache:     template.NewCache(),
		v5Flows:   make(map[v5FlowKey]*template.LastFlowInfo),
	}
}

// Process dispatches buf (one UDP payload) by its leading version
// field. Unsupported or too-short input is logged and produces no
// output, never an error — a malformed datagram from one exporter
// must not interrupt decoding of the next.
func (d *Decoder) Process(peerAddr uint32, buf []byte) Output {
	if len(buf) < 2 {
		d.Log.Trace("decoder: datagram too short to carry a version", "port", d.LocalPort)
		return Output{}
	}

	d.Stats.PacketsDecoded.Add(1)

	version := binary.BigEndian.Uint16(buf[0:2])
	switch version {
	case 5:
		return d.processV5(peerAddr, buf)
	case 10:
		return d.processV10(peerAddr, buf)
	default:
		d.Stats.UnsupportedVersions.Add(1)
		d.Log.Warn("decoder: unsupported version", "port", d.LocalPort, "version", version)
		return Output{}
	}
}

// peerAddrString formats a big-endian uint32 IPv4 address as dotted
// decimal, for Event.ExporterAddr.
func peerAddrString(peerAddr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(peerAddr>>24), byte(peerAddr>>16), byte(peerAddr>>8), byte(peerAddr))
}

// sendAlert is a nil-safe wrapper so call sites don't need a Config.Alert
// guard of their own; failures are logged, not returned, since an
// anomaly notification is best-effort and must never affect decoding.
func (d *Decoder) sendAlert(ev alert.Event) {
	if d.Config.Alert == nil {
		return
	}
	if err := d.Config.Alert.Send(ev); err != nil {
		d.Log.Warn("decoder: alert delivery failed", "port", d.LocalPort, "kind", ev.Kind, "error", err.Error())
	}
}
