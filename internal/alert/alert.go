// Package alert optionally posts an anomaly notification to an
// upstream webhook: sequence gaps, unknown templates, and truncated
// fields the decoder detects. One shared Alerter serves every port.
package alert

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mikekim/ipfixd/internal/logger"
)

// Config configures the Alerter. There is no enable switch: callers
// that want alerts disabled do not call New (cmd/ipfixd skips it when
// --alert-url is empty).
type Config struct {
	UpstreamURL        string
	InsecureSkipVerify bool
	IgnoreHTTPErrors   bool
	Logger             *logger.Logger
}

// Alerter posts Event values to Config.UpstreamURL as JSON.
type Alerter struct {
	config     Config
	httpClient *http.Client
	log        *logger.Logger
}

// Event is one anomaly notification.
type Event struct {
	Kind         string `json:"kind"` // "sequence_gap", "unknown_template", "truncation"
	Port         uint16 `json:"port"`
	ExporterAddr string `json:"exporter_addr"`
	Message      string `json:"message"`
	Count        uint64 `json:"count,omitempty"`
	TimestampUTC int64  `json:"timestamp_utc"`
}

// New builds an Alerter. cfg.UpstreamURL must be set.
func New(cfg Config) (*Alerter, error) {
	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("alert: upstream URL is required")
	}

	transport := &http.Transport{
		TLSClientConfig:    &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: false,
	}

	a := &Alerter{
		config:     cfg,
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		log:        cfg.Logger,
	}

	a.log.Info("alert: webhook initialized", "upstream_url", cfg.UpstreamURL,
		"insecure_skip_verify", cfg.InsecureSkipVerify, "ignore_http_errors", cfg.IgnoreHTTPErrors)

	return a, nil
}

// Send posts ev to the upstream URL. A non-2xx response or transport
// error is logged and, unless IgnoreHTTPErrors is set, returned.
func (a *Alerter) Send(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alert: marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.config.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ipfixd-alert/1.0")
	req.Header.Set("X-Alert-Kind", ev.Kind)
	req.Header.Set("X-Alert-Port", fmt.Sprintf("%d", ev.Port))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.log.Error("alert: request failed", "upstream_url", a.config.UpstreamURL, "error", err.Error())
		if a.config.IgnoreHTTPErrors {
			return nil
		}
		return fmt.Errorf("alert: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.log.Error("alert: upstream returned non-OK status", "status", resp.StatusCode, "body", string(respBody))
		if a.config.IgnoreHTTPErrors {
			return nil
		}
		return fmt.Errorf("alert: upstream status %d: %s", resp.StatusCode, string(respBody))
	}

	a.log.Debug("alert: delivered", "kind", ev.Kind, "port", ev.Port)
	return nil
}

// Close releases idle connections.
func (a *Alerter) Close() error {
	if a == nil {
		return nil
	}
	a.httpClient.CloseIdleConnections()
	a.log.Info("alert: webhook closed")
	return nil
}
