// Command ipfixd listens for NetFlow v5 and IPFIX traffic on one or
// more UDP ports and writes cflowd and/or raw-ipfix output files,
// rotating them on a timer into a destination directory.
//
// Responds to:
//
//	SIGUSR1: print a status report for every receiver/decoder/writer
//	SIGHUP, SIGINT: graceful shutdown — drain queues, close files
//	SIGTERM: fast shutdown — same drain, logged as a fast stop
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mikekim/ipfixd/internal/alert"
	"github.com/mikekim/ipfixd/internal/cliports"
	"github.com/mikekim/ipfixd/internal/config"
	"github.com/mikekim/ipfixd/internal/decoder"
	"github.com/mikekim/ipfixd/internal/logger"
	"github.com/mikekim/ipfixd/internal/metrics"
	"github.com/mikekim/ipfixd/internal/pcapdebug"
	"github.com/mikekim/ipfixd/internal/pipeline"
	"github.com/mikekim/ipfixd/internal/receiver"
	"github.com/mikekim/ipfixd/internal/template"
	"github.com/mikekim/ipfixd/internal/writer"
)

const version = "1.0.2"

func main() {
	var ports cliports.List
	flag.Var(&ports, "ports", "repeatable port:tempdir[:destdir[:write_timeout[,fmt,...]]] spec")
	configPath := flag.String("config", "", "path to optional YAML defaults file")
	logFile := flag.String("log", "", "path to a log file (in addition to console)")
	logLevel := flag.String("log-level", "info", "console and file log level")
	logFormat := flag.String("log-format", "text", "console and file log format (text or json)")
	enterpriseBitMode := flag.String("enterprise-bit-mode", "threshold-1000", "enterprise-bit interpretation: threshold-1000 or mask-8000")
	logMissingFull := flag.Bool("log-missing-full", true, "log a sequence-gap error when flows are lost")
	logUnchangedTemplates := flag.Bool("log-unchanged-templates", false, "log every byte-identical template re-install")
	logDatarec := flag.Bool("log-datarec", false, "trace every decoded record (expensive)")
	queueSize := flag.Int("queue-size", 0, "per-port receiver queue size (0 = built-in default)")
	bufferSize := flag.Int("buffer-size", 0, "per-datagram receive buffer size (0 = built-in default)")
	metricsListen := flag.String("metrics-listen", "", "address to serve Prometheus /metrics on (empty disables)")
	alertURL := flag.String("alert-url", "", "webhook URL to POST anomaly events to (empty disables)")
	alertInsecure := flag.Bool("alert-insecure-skip-verify", false, "skip TLS verification when posting alerts")
	alertIgnoreHTTPErrors := flag.Bool("alert-ignore-http-errors", true, "don't return webhook HTTP errors from the alerter (they are logged either way; decoding never stops on them)")
	pcapDebugFile := flag.String("pcap-debug", "", "path to a rotating pcap file mirroring every received datagram (empty disables)")
	pcapDebugMaxSizeMB := flag.Int("pcap-debug-max-size-mb", 100, "pcap debug file size before rotating")
	pcapDebugMaxBackups := flag.Int("pcap-debug-max-backups", 3, "number of rotated pcap debug files to keep")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ipfixd version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	// CLI flags always win; the YAML file only supplies a value a flag
	// wasn't given for (flag.Int's zero default here doubles as "not
	// given", since a real queue/buffer size of 0 is never useful).
	if *queueSize <= 0 {
		*queueSize = cfg.Defaults.BufferPoolSize
	}
	if *metricsListen == "" && cfg.Metrics.Enabled {
		*metricsListen = cfg.Metrics.Listen
	}
	if *alertURL == "" && cfg.Alert.Enabled {
		*alertURL = cfg.Alert.UpstreamURL
		*alertInsecure = cfg.Alert.InsecureSkipVerify
	}

	log, err := logger.New(logger.Config{
		Console: logger.ConsoleConfig{Enabled: true, Level: *logLevel, Format: *logFormat},
		File:    logger.FileConfig{Enabled: *logFile != "", Level: *logLevel, Format: *logFormat, Path: *logFile},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if len(ports.Specs) == 0 {
		log.Error("ipfixd: no --ports given, nothing to listen on")
		os.Exit(1)
	}

	bitMode := template.EnterpriseBitThreshold1000
	if *enterpriseBitMode == "mask-8000" {
		bitMode = template.EnterpriseBitMask8000
	}

	var alerter *alert.Alerter
	if *alertURL != "" {
		alerter, err = alert.New(alert.Config{
			UpstreamURL:        *alertURL,
			InsecureSkipVerify: *alertInsecure,
			IgnoreHTTPErrors:   *alertIgnoreHTTPErrors,
			Logger:             log,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize alert webhook: %v\n", err)
			os.Exit(1)
		}
		defer alerter.Close()
	}

	var pcapWriter *pcapdebug.Writer
	if *pcapDebugFile != "" {
		pcapWriter, err = pcapdebug.NewWriter(*pcapDebugFile, *pcapDebugMaxSizeMB, *pcapDebugMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize pcap debug capture: %v\n", err)
			os.Exit(1)
		}
		defer pcapWriter.Close()
		log.Info("ipfixd: pcap debug capture enabled", "file", *pcapDebugFile)
	}

	log.Info("========================================")
	log.Info("Starting ipfixd", "version", version)
	log.Info("========================================")
	for _, s := range ports.Specs {
		log.Info("port configured", "port", s.Port, "temp_dir", s.TempDir, "dest_dir", s.DestDir,
			"write_timeout", s.WriteTimeout.String(), "formats", fmt.Sprint(s.Formats))
	}

	d := newDaemon(log)
	d.pcap = pcapWriter
	d.build(ports.Specs, daemonConfig{
		QueueSize:             *queueSize,
		BufferSize:            *bufferSize,
		EnterpriseBitMode:     bitMode,
		LogMissingFull:        *logMissingFull,
		LogUnchangedTemplates: *logUnchangedTemplates,
		LogDatarec:            *logDatarec,
		Alert:                 alerter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.start(ctx)

	if *metricsListen != "" {
		var sources []metrics.PortSource
		for _, p := range d.pipelines {
			sources = append(sources, metrics.PortSource{Port: p.spec.Port, Rec: p.rec, Dec: p.dec})
		}
		go func() {
			if err := metrics.Serve(ctx, *metricsListen, sources, log); err != nil {
				log.Error("ipfixd: metrics server exited", "error", err.Error())
			}
		}()
	}

	// Startup self-check: give receivers a moment to fail to bind
	// before declaring the daemon up, matching the source's
	// time.sleep(5) + should_stop() check in _main.
	go func() {
		time.Sleep(5 * time.Second)
		if d.anyReceiverStoppedEarly() {
			log.Error("ipfixd: a receiver stopped within 5s of startup, shutting down")
			d.shutdown(cancel, "startup self-check failure")
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGUSR1:
			d.reportStatus()
		case syscall.SIGTERM:
			log.Info("ipfixd: fast stop requested")
			d.shutdown(cancel, "SIGTERM")
			log.Info("ipfixd: terminated")
			return
		default: // SIGINT, SIGHUP
			log.Info("ipfixd: graceful shutdown requested", "signal", sig.String())
			d.shutdown(cancel, sig.String())
			log.Info("ipfixd: terminated")
			return
		}
	}
}

// daemonConfig carries the decoder/receiver tuning knobs common to
// every port, parsed once from flags.
type daemonConfig struct {
	QueueSize             int
	BufferSize            int
	EnterpriseBitMode     template.EnterpriseBitMode
	LogMissingFull        bool
	LogUnchangedTemplates bool
	LogDatarec            bool
	Alert                 *alert.Alerter
}

// portPipeline is one listening port's receiver, decoder, and the
// writers its output feeds — which may be shared with other ports
// whose spec names the same temp directory.
type portPipeline struct {
	spec        cliports.Spec
	rec         *receiver.Receiver
	dec         *decoder.Decoder
	cflowdOut   *writer.Writer
	rawIPFIXOut *writer.Writer
}

// daemon owns every pipeline and writer for the process, and the
// shutdown bookkeeping (writer feeder refcounts) needed so a writer
// shared by several ports only sees a Stop once all its feeders agree.
type daemon struct {
	log  *logger.Logger
	pcap *pcapdebug.Writer

	pipelines []*portPipeline
	writers   map[string]*writer.Writer // key: tempDir + "|" + kind

	wg sync.WaitGroup

	feederMu    sync.Mutex
	feederCount map[*writer.Writer]int
}

func newDaemon(log *logger.Logger) *daemon {
	return &daemon{
		log:         log,
		writers:     make(map[string]*writer.Writer),
		feederCount: make(map[*writer.Writer]int),
	}
}

func (d *daemon) getOrCreateWriter(spec cliports.Spec, kind writer.Kind) *writer.Writer {
	key := spec.TempDir + "|" + string(kind)
	if w, ok := d.writers[key]; ok {
		return w
	}
	w := writer.New(writer.Config{
		TempDir:      spec.TempDir,
		DestDir:      spec.DestDir,
		WriteTimeout: spec.WriteTimeout,
		Kind:         kind,
	}, d.log)
	d.writers[key] = w
	return w
}

func (d *daemon) build(specs []cliports.Spec, cfg daemonConfig) {
	for _, spec := range specs {
		wantCflowd, wantIPFIX := false, false
		for _, f := range spec.Formats {
			switch f {
			case cliports.FormatCflowd:
				wantCflowd = true
			case cliports.FormatIPFIX:
				wantIPFIX = true
			}
		}

		p := &portPipeline{spec: spec}
		p.rec = receiver.New(receiver.Config{
			Port:       spec.Port,
			QueueSize:  cfg.QueueSize,
			BufferSize: cfg.BufferSize,
		}, d.log)
		p.dec = decoder.New(spec.Port, decoder.Config{
			WantCflowd:            wantCflowd,
			WantRawIPFIX:          wantIPFIX,
			EnterpriseBitMode:     cfg.EnterpriseBitMode,
			LogMissingFull:        cfg.LogMissingFull,
			LogUnchangedTemplates: cfg.LogUnchangedTemplates,
			LogDatarec:            cfg.LogDatarec,
			Alert:                 cfg.Alert,
		}, d.log)

		if wantCflowd {
			p.cflowdOut = d.getOrCreateWriter(spec, writer.KindCflowd)
			d.feederCount[p.cflowdOut]++
		}
		if wantIPFIX {
			p.rawIPFIXOut = d.getOrCreateWriter(spec, writer.KindIPFIX)
			d.feederCount[p.rawIPFIXOut]++
		}

		d.pipelines = append(d.pipelines, p)
		d.log.Info("ipfixd: port wired", "port", spec.Port, "cflowd", wantCflowd, "ipfix", wantIPFIX)
	}
}

// start launches every receiver, its pump goroutine, and every unique
// writer. ctx cancellation is the "hard stop" path; the graceful path
// goes through shutdown, which also uses ctx.
func (d *daemon) start(ctx context.Context) {
	for _, w := range d.writers {
		d.wg.Add(1)
		go func(w *writer.Writer) {
			defer d.wg.Done()
			if err := w.Run(ctx); err != nil {
				d.log.Error("ipfixd: writer exited with error", "error", err.Error())
			}
		}(w)
	}

	for _, p := range d.pipelines {
		d.wg.Add(1)
		go func(p *portPipeline) {
			defer d.wg.Done()
			if err := p.rec.Run(ctx); err != nil {
				d.log.Error("ipfixd: receiver exited with error", "port", p.spec.Port, "error", err.Error())
			}
		}(p)

		d.wg.Add(1)
		go func(p *portPipeline) {
			defer d.wg.Done()
			d.pump(ctx, p)
		}(p)
	}
}

// pump drains one port's receiver output, runs it through that port's
// decoder, and forwards the result onto the port's writer(s). On a
// Stop datagram it decrements the feeder refcount of each attached
// writer, forwarding a Stop blob once a writer's last feeder is gone.
func (d *daemon) pump(ctx context.Context, p *portPipeline) {
	for {
		batch, ok := p.rec.Out.Get(ctx)
		if !ok {
			d.releaseFeeders(p)
			return
		}

		for _, dg := range batch {
			if dg.Stop {
				d.releaseFeeders(p)
				return
			}

			if d.pcap != nil {
				if err := d.pcap.WritePacket(dg.PeerAddr, 0, p.spec.Port, dg.Buf[:dg.Length], time.Now()); err != nil {
					d.log.Warn("ipfixd: pcap debug capture write failed", "error", err.Error())
				}
			}

			peerAddr := addrToUint32(dg.PeerAddr)
			out := p.dec.Process(peerAddr, dg.Buf[:dg.Length])
			p.rec.Return(dg.Buf)

			if len(out.Cflowd) > 0 && p.cflowdOut != nil {
				p.cflowdOut.In.Put([]pipeline.OutputBlob{{Data: out.Cflowd}})
			}
			if len(out.RawIPFIX) > 0 && p.rawIPFIXOut != nil {
				p.rawIPFIXOut.In.Put([]pipeline.OutputBlob{{Data: out.RawIPFIX}})
			}
		}
	}
}

func addrToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func (d *daemon) releaseFeeders(p *portPipeline) {
	d.feederMu.Lock()
	defer d.feederMu.Unlock()

	for _, w := range []*writer.Writer{p.cflowdOut, p.rawIPFIXOut} {
		if w == nil {
			continue
		}
		d.feederCount[w]--
		if d.feederCount[w] <= 0 {
			w.In.Put([]pipeline.OutputBlob{{Stop: true}})
		}
	}
}

// shutdown asks every receiver to stop (unblocking a blocking read
// with the self-addressed zero-byte datagram trick), waits for every
// receiver's pump to drain and release its writers, then waits for
// every writer to perform its final rotation and exit.
func (d *daemon) shutdown(cancel context.CancelFunc, reason string) {
	d.log.Info("ipfixd: shutting down", "reason", reason)
	for _, p := range d.pipelines {
		p.rec.Stop()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		d.log.Error("ipfixd: shutdown timed out waiting for pipelines, forcing cancel")
		cancel()
		<-done
	}
}

// anyReceiverStoppedEarly reports whether any receiver's Run goroutine
// has already returned — used only by the 5s startup self-check,
// matching the source's should_stop() check in _main.
func (d *daemon) anyReceiverStoppedEarly() bool {
	for _, p := range d.pipelines {
		if p.rec.Exited() {
			return true
		}
	}
	return false
}

// reportStatus logs a line per pipeline and writer, mirroring the
// source's SIGUSR1 usr1_handler status dump.
func (d *daemon) reportStatus() {
	d.log.Info("ipfixd: status report requested (SIGUSR1)")
	for _, p := range d.pipelines {
		d.log.Info("status: receiver", "port", p.spec.Port,
			"readListCount", p.rec.Stats.ReadListCount.Load(),
			"readListTotal", p.rec.Stats.ReadListTotal.Load(),
			"freeListLargeList", p.rec.Stats.FreeListLargeList.Load(),
			"outQueueDepth", p.rec.Out.Len(), "outQueueHighWater", p.rec.Out.HighWater())
		d.log.Info("status: decoder", "port", p.spec.Port,
			"packetsDecoded", p.dec.Stats.PacketsDecoded.Load(),
			"recordsDecoded", p.dec.Stats.RecordsDecoded.Load(),
			"templatesInstalled", p.dec.Stats.TemplatesInstalled.Load(),
			"sequenceGaps", p.dec.Stats.SequenceGaps.Load(),
			"unknownTemplateDrops", p.dec.Stats.UnknownTemplateDrops.Load(),
			"truncationWarnings", p.dec.Stats.TruncationWarnings.Load())
	}
	for key, w := range d.writers {
		d.log.Info("status: writer", "key", key, "queueDepth", w.In.Len(), "queueHighWater", w.In.HighWater())
	}
}
