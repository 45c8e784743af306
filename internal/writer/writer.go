// Package writer implements the per-(temp_dir, format) output stage:
// a single append-only temp file drained from a batched queue, and a
// self-rescheduling rotation timer that renames it into the
// destination directory on a fixed interval.
package writer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mikekim/ipfixd/internal/batchqueue"
	"github.com/mikekim/ipfixd/internal/logger"
	"github.com/mikekim/ipfixd/internal/pipeline"
)

// writeBufSize is the temp file's write-buffer size, matching the
// source's open(..., 'wb', 2**20): a large buffer cuts the number of
// write(2) syscalls a sustained flow of small blobs would otherwise
// cost.
const writeBufSize = 1 << 20

// Kind selects the output file's base name, matching the two formats
// this collector emits.
type Kind string

const (
	KindCflowd Kind = "cflowd"
	KindIPFIX  Kind = "ipfix"
)

var fileNames = map[Kind]string{
	KindCflowd: "flows",
	KindIPFIX:  "ipfix-flows",
}

const stuckCooldown = 60 * time.Second

// Config configures one Writer.
type Config struct {
	TempDir      string
	DestDir      string
	WriteTimeout time.Duration
	Kind         Kind
}

// Writer appends blobs from In to a temp file, guarded by a mutex
// shared with the rotation timer so a rename never races a write.
type Writer struct {
	tempDir      string
	destDir      string
	writeTimeout time.Duration
	kind         Kind
	tempFileName string

	Log *logger.Logger
	In  *batchqueue.Queue[pipeline.OutputBlob]

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer

	stuck      bool
	stuckSince time.Time

	timer *time.Timer
}

// New returns a Writer for cfg. It does not open or rotate any file —
// that happens lazily on the first write and on the first rotation
// tick, matching the source's "nothing to rename yet" first pass.
func New(cfg Config, log *logger.Logger) *Writer {
	tempDir := ensureTrailingSlash(cfg.TempDir)
	destDir := ensureTrailingSlash(cfg.DestDir)

	return &Writer{
		tempDir:      tempDir,
		destDir:      destDir,
		writeTimeout: cfg.WriteTimeout,
		kind:         cfg.Kind,
		tempFileName: tempDir + fileNames[cfg.Kind] + ".current",
		Log:          log,
		In:           batchqueue.New[pipeline.OutputBlob](),
	}
}

func ensureTrailingSlash(dir string) string {
	if len(dir) == 0 || dir[len(dir)-1] == '/' {
		return dir
	}
	return dir + "/"
}

// Run drains In until a Stop-tagged blob arrives or ctx is cancelled,
// writing every other blob to the current temp file. On exit it
// cancels the rotation timer and performs one final rotation so the
// last temp file isn't left stranded.
func (w *Writer) Run(ctx context.Context) error {
	w.scheduleRotate()

	for {
		items, ok := w.In.Get(ctx)
		if !ok {
			w.finalRotate()
			return nil
		}

		if w.stuck && time.Since(w.stuckSince) > stuckCooldown {
			w.stuck = false
		}

		w.mu.Lock()
		if !w.stuck && w.file == nil {
			f, err := os.OpenFile(w.tempFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				w.Log.Error("writer: open temp file failed, will retry", "path", w.tempFileName, "error", err.Error(), "cooldown", stuckCooldown.String())
				w.stuck = true
				w.stuckSince = time.Now()
			} else {
				w.file = f
				w.buf = bufio.NewWriterSize(f, writeBufSize)
			}
		}

		stopping := false
		for _, item := range items {
			if item.Stop {
				stopping = true
				break
			}
			if w.stuck {
				break
			}
			if _, err := w.buf.Write(item.Data); err != nil {
				w.Log.Error("writer: write failed, will retry", "path", w.tempFileName, "error", err.Error(), "cooldown", stuckCooldown.String())
				w.stuck = true
				w.stuckSince = time.Now()
				break
			}
		}
		w.mu.Unlock()

		if stopping {
			w.finalRotate()
			return nil
		}
	}
}

// scheduleRotate arms a one-shot timer that rotates the file and
// reschedules itself, mirroring the source's threading.Timer restart
// pattern rather than a ticker (so a slow rename never compounds into
// overlapping rotations).
func (w *Writer) scheduleRotate() {
	w.timer = time.AfterFunc(w.writeTimeout, func() {
		w.rotate()
		w.scheduleRotate()
	})
}

func (w *Writer) finalRotate() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.rotate()
}

// rotate closes and renames the current temp file, if one is open.
// Called both by the timer and on shutdown; the file lock it takes is
// never held across a write, so a write in progress always finishes
// (or fails) before a rotation can begin.
func (w *Writer) rotate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return
	}

	if err := w.buf.Flush(); err != nil {
		w.Log.Error("writer: flushing temp file failed", "path", w.tempFileName, "error", err.Error())
	}

	if err := w.file.Close(); err != nil {
		w.Log.Error("writer: closing temp file failed", "path", w.tempFileName, "error", err.Error())
		w.file = nil
		w.buf = nil
		return
	}
	w.file = nil
	w.buf = nil

	destName := w.destDir + fileNames[w.kind] + "." + rotationTimestamp(time.Now())
	w.Log.Info("writer: rotating", "from", w.tempFileName, "to", destName)
	if err := os.Rename(w.tempFileName, destName); err != nil {
		w.Log.Error("writer: rename failed", "from", w.tempFileName, "to", destName, "error", err.Error())
	}
}

// rotationTimestamp formats t as YYYYMMDD_HH:MM:SS followed by a
// signed 4-digit UTC-offset hour with minutes always zeroed, matching
// the source's gmt_offset computation (an integer hour count, not a
// true sub-hour offset).
func rotationTimestamp(t time.Time) string {
	_, offsetSec := t.Zone()
	offsetHours := offsetSec / 3600
	return t.Format("20060102_15:04:05") + fmt.Sprintf("%+03d00", offsetHours)
}
