// Package metrics exposes a Prometheus /metrics endpoint that samples
// the atomic Stats counters already kept on every port's receiver and
// decoder, rather than mirroring each one into a second metric that
// could drift from the value a SIGUSR1 status dump reports.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikekim/ipfixd/internal/decoder"
	"github.com/mikekim/ipfixd/internal/logger"
	"github.com/mikekim/ipfixd/internal/receiver"
)

// PortSource is one listening port's receiver and decoder, registered
// with a Collector so its counters are sampled on every scrape.
type PortSource struct {
	Port uint16
	Rec  *receiver.Receiver
	Dec  *decoder.Decoder
}

// Collector implements prometheus.Collector over a fixed set of
// PortSources, each reported with a "port" label.
type Collector struct {
	sources []PortSource

	packetsDecoded       *prometheus.Desc
	recordsDecoded       *prometheus.Desc
	templatesInstalled   *prometheus.Desc
	sequenceGaps         *prometheus.Desc
	unknownTemplateDrops *prometheus.Desc
	truncationWarnings   *prometheus.Desc
	unsupportedVersions  *prometheus.Desc

	readListFlushes   *prometheus.Desc
	datagramsReceived *prometheus.Desc
	freeListLargeList *prometheus.Desc
	freeListExhausted *prometheus.Desc
	outQueueDepth     *prometheus.Desc
}

// NewCollector returns a Collector over sources. Register it with a
// prometheus.Registry before serving.
func NewCollector(sources []PortSource) *Collector {
	label := []string{"port"}
	return &Collector{
		sources:              sources,
		packetsDecoded:       prometheus.NewDesc("ipfixd_decoder_packets_decoded_total", "Total datagrams decoded", label, nil),
		recordsDecoded:       prometheus.NewDesc("ipfixd_decoder_records_decoded_total", "Total flow records decoded", label, nil),
		templatesInstalled:   prometheus.NewDesc("ipfixd_decoder_templates_installed_total", "Total IPFIX templates installed or replaced", label, nil),
		sequenceGaps:         prometheus.NewDesc("ipfixd_decoder_sequence_gaps_total", "Total detected flow sequence gaps", label, nil),
		unknownTemplateDrops: prometheus.NewDesc("ipfixd_decoder_unknown_template_drops_total", "Total distinct unknown template keys seen (counted once per key until the template arrives)", label, nil),
		truncationWarnings:   prometheus.NewDesc("ipfixd_decoder_truncation_warnings_total", "Total records with an unexpected non-zero byte in a truncated field", label, nil),
		unsupportedVersions:  prometheus.NewDesc("ipfixd_decoder_unsupported_versions_total", "Total datagrams with an unsupported protocol version", label, nil),
		readListFlushes:      prometheus.NewDesc("ipfixd_receiver_read_list_flushes_total", "Total read-list flushes to the decoder queue", label, nil),
		datagramsReceived:    prometheus.NewDesc("ipfixd_receiver_datagrams_received_total", "Total datagrams received", label, nil),
		freeListLargeList:    prometheus.NewDesc("ipfixd_receiver_free_list_large_list_total", "Total read-loop iterations observing a large free list", label, nil),
		freeListExhausted:    prometheus.NewDesc("ipfixd_receiver_free_list_exhausted_total", "Total read-loop iterations that exhausted the free list", label, nil),
		outQueueDepth:        prometheus.NewDesc("ipfixd_receiver_out_queue_depth", "Current depth of the receiver-to-decoder queue", label, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.packetsDecoded, c.recordsDecoded, c.templatesInstalled, c.sequenceGaps,
		c.unknownTemplateDrops, c.truncationWarnings, c.unsupportedVersions,
		c.readListFlushes, c.datagramsReceived, c.freeListLargeList, c.freeListExhausted, c.outQueueDepth,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector, sampling every source's
// atomic counters at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.sources {
		port := fmt.Sprintf("%d", s.Port)

		ch <- prometheus.MustNewConstMetric(c.packetsDecoded, prometheus.CounterValue, float64(s.Dec.Stats.PacketsDecoded.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.recordsDecoded, prometheus.CounterValue, float64(s.Dec.Stats.RecordsDecoded.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.templatesInstalled, prometheus.CounterValue, float64(s.Dec.Stats.TemplatesInstalled.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.sequenceGaps, prometheus.CounterValue, float64(s.Dec.Stats.SequenceGaps.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.unknownTemplateDrops, prometheus.CounterValue, float64(s.Dec.Stats.UnknownTemplateDrops.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.truncationWarnings, prometheus.CounterValue, float64(s.Dec.Stats.TruncationWarnings.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.unsupportedVersions, prometheus.CounterValue, float64(s.Dec.Stats.UnsupportedVersions.Load()), port)

		ch <- prometheus.MustNewConstMetric(c.readListFlushes, prometheus.CounterValue, float64(s.Rec.Stats.ReadListCount.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.datagramsReceived, prometheus.CounterValue, float64(s.Rec.Stats.ReadListTotal.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.freeListLargeList, prometheus.CounterValue, float64(s.Rec.Stats.FreeListLargeList.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.freeListExhausted, prometheus.CounterValue, float64(s.Rec.Stats.FreeListExhausted.Load()), port)
		ch <- prometheus.MustNewConstMetric(c.outQueueDepth, prometheus.GaugeValue, float64(s.Rec.Out.Len()), port)
	}
}

// Serve registers a Collector over sources and blocks serving /metrics
// on listen until ctx is cancelled, then shuts the server down
// gracefully.
func Serve(ctx context.Context, listen string, sources []PortSource, log *logger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(sources))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Info("metrics: serving", "listen", listen)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("metrics: server exited", "error", err.Error())
			return err
		}
		return nil
	}
}
