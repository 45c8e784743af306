// Package receiver implements the per-port UDP ingress stage: a
// free-list of reusable buffers, an adaptive blocking/non-blocking/
// timeout read loop tuned by queue depth, and hand-off of received
// datagrams to the decoder via a batched queue.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mikekim/ipfixd/internal/batchqueue"
	"github.com/mikekim/ipfixd/internal/logger"
	"github.com/mikekim/ipfixd/internal/pipeline"
)

// Config configures one Receiver.
type Config struct {
	Port       uint16
	QueueSize  int // max_queue_size in the source; default 50000
	BufferSize int // per-datagram buffer size; default 4096
}

const (
	defaultQueueSize  = 50000
	defaultBufferSize = 4096

	// nonBlockingDeadline is used in place of Python's settimeout(0.0):
	// a deadline 1µs ahead of now makes ReadFromUDP return almost
	// immediately with a timeout error if nothing is pending.
	nonBlockingDeadline = 1 * time.Microsecond
	// idleReadTimeout mirrors settimeout(2.0): don't let a non-empty
	// read_list sit unflushed indefinitely if traffic goes quiet.
	idleReadTimeout = 2 * time.Second
)

// freeListReason and readListReason mirror the source's FreeListReasons
// and ReadListReasons enums: a pending reason is set where the source
// would have called free_list_management/read_list_management inline,
// then carried to the top of the next iteration and consumed there
// instead, so a free-list action and a read-list action never both run
// in the same pass.
type freeListReason int

const (
	freeReasonNone freeListReason = iota
	freeReasonEmpty
	freeReasonLarge
)

type readListReason int

const (
	readReasonNone readListReason = iota
	readReasonLarge
	readReasonTimeout
	readReasonBlockedIO
)

// Stats are the read-loop tuning counters the source's print_metrics
// reports; exported so a SIGUSR1 status dump or a metrics exporter can
// sample them.
type Stats struct {
	FreeListLargeList atomic.Int64
	FreeListBlockedIO atomic.Int64
	FreeListEmpty     atomic.Int64
	FreeListExhausted atomic.Int64
	ReadListCount     atomic.Int64
	ReadListTotal     atomic.Int64
	ReadListLargeList atomic.Int64
	ReadListTimeout   atomic.Int64
	ReadListBlockedIO atomic.Int64
	IONonBlocking     atomic.Int64
	IOTimeout         atomic.Int64
	IOBlocking        atomic.Int64
	BuffersAllocated  atomic.Int64
}

// Receiver owns one UDP socket and the free-list of buffers it reads
// into. Out is the batched queue datagrams are handed off on; the
// decoder (or whoever drains Out) must call Return once a buffer's
// contents have been consumed.
type Receiver struct {
	Port       uint16
	BufferSize int
	queueSize  int

	Log   *logger.Logger
	Stats Stats

	Out      *batchqueue.Queue[pipeline.Datagram]
	freeList *batchqueue.Queue[[]byte]

	conn *net.UDPConn

	stopRequested atomic.Bool
	exited        atomic.Bool
}

// Exited reports whether Run has returned — used by the daemon's
// startup self-check to notice a receiver that failed to bind and
// died immediately, the Go analogue of the source's should_stop()
// check 5 seconds after launching all threads.
func (r *Receiver) Exited() bool {
	return r.exited.Load()
}

// New allocates the free-list's buffer pool and returns a ready-to-run
// Receiver. Call Run to open the socket and start the read loop.
func New(cfg Config, log *logger.Logger) *Receiver {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}

	r := &Receiver{
		Port:       cfg.Port,
		BufferSize: bufSize,
		queueSize:  queueSize,
		Log:        log,
		Out:        batchqueue.New[pipeline.Datagram](),
		freeList:   batchqueue.New[[]byte](),
	}

	initial := make([][]byte, queueSize)
	for i := range initial {
		initial[i] = make([]byte, bufSize)
	}
	r.freeList.Put(initial)
	r.Stats.BuffersAllocated.Add(int64(queueSize))

	return r
}

// Return gives a buffer back to the free-list once the decoder is
// done reading it. Safe to call from a different goroutine than Run.
func (r *Receiver) Return(buf []byte) {
	r.freeList.Put([][]byte{buf[:cap(buf)]})
}

// Stop requests the read loop to exit and, if it's currently blocked
// in recvfrom, unblocks it with a self-addressed zero-byte datagram —
// the one cross-platform trick the source relies on for a clean
// shutdown of a blocking socket read.
func (r *Receiver) Stop() {
	r.stopRequested.Store(true)
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", r.Port))
	if err != nil {
		return
	}
	defer conn.Close()
	conn.Write(nil)
}

// Run opens the UDP socket with SO_REUSEADDR and a maximized
// SO_RCVBUF, then runs the adaptive read loop until ctx is cancelled
// or Stop is called. It always returns a final Stop-tagged Datagram
// onto Out before returning, so a downstream decoder's consume loop
// can shut down too.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.exited.Store(true)

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			ctrlErr := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp", fmt.Sprintf(":%d", r.Port))
	if err != nil {
		return fmt.Errorf("receiver: listen on port %d: %w", r.Port, err)
	}
	conn := pc.(*net.UDPConn)
	r.conn = conn
	defer conn.Close()

	r.maximizeRcvBuf(conn)
	r.Log.Info("receiver: listening", "port", r.Port, "queueSize", r.queueSize, "bufferSize", r.BufferSize)

	var freeBuf [][]byte
	var readList []pipeline.Datagram
	freeReason := freeReasonEmpty
	readReason := readReasonNone

	flushRead := func() {
		if len(readList) == 0 {
			return
		}
		r.Stats.ReadListCount.Add(1)
		r.Stats.ReadListTotal.Add(int64(len(readList)))
		r.Out.Put(readList)
		readList = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushRead()
			r.Out.Put([]pipeline.Datagram{{Stop: true}})
			return nil
		default:
		}

		if len(freeBuf) == 0 {
			freeReason = freeReasonEmpty
		} else if r.freeList.Len() >= r.queueSize/2 {
			freeReason = freeReasonLarge
		}
		if len(readList) >= r.queueSize/2 {
			readReason = readReasonLarge
		}

		// Free-list and read-list management never both run in the
		// same pass; free-list takes priority since an empty free
		// list blocks the next read outright.
		switch {
		case freeReason != freeReasonNone:
			if freeReason == freeReasonEmpty {
				r.Stats.FreeListExhausted.Add(1)
				batch, ok := r.freeList.Get(ctx)
				if !ok {
					flushRead()
					r.Out.Put([]pipeline.Datagram{{Stop: true}})
					return nil
				}
				freeBuf = batch
			} else {
				r.Stats.FreeListLargeList.Add(1)
				if more, ok := r.freeList.TryGet(); ok {
					freeBuf = append(freeBuf, more...)
				}
			}
			freeReason = freeReasonNone
		case readReason != readReasonNone:
			switch readReason {
			case readReasonLarge:
				r.Stats.ReadListLargeList.Add(1)
			case readReasonTimeout:
				r.Stats.ReadListTimeout.Add(1)
			case readReasonBlockedIO:
				r.Stats.ReadListBlockedIO.Add(1)
			}
			flushRead()
			readReason = readReasonNone
		}

		var deadline time.Time
		nonBlockingFree := false
		nonBlockingRead := false
		switch {
		case r.freeList.Len() > r.queueSize/16:
			r.Stats.IONonBlocking.Add(1)
			deadline = time.Now().Add(nonBlockingDeadline)
			nonBlockingFree = true
		case len(readList) > r.queueSize/16:
			r.Stats.IONonBlocking.Add(1)
			deadline = time.Now().Add(nonBlockingDeadline)
			nonBlockingRead = true
		case len(readList) > 0:
			r.Stats.IOTimeout.Add(1)
			deadline = time.Now().Add(idleReadTimeout)
		default:
			r.Stats.IOBlocking.Add(1)
			deadline = time.Time{}
		}
		conn.SetReadDeadline(deadline)

		buf := freeBuf[len(freeBuf)-1]
		n, addr, err := conn.ReadFromUDP(buf[:r.BufferSize])
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				flushRead()
				r.Out.Put([]pipeline.Datagram{{Stop: true}})
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				switch {
				case nonBlockingFree:
					// The opportunistic non-blocking read found
					// nothing; the free-list refill it deferred to
					// make room for still happens next pass.
					freeReason = freeReasonLarge
				case nonBlockingRead:
					readReason = readReasonBlockedIO
				default:
					readReason = readReasonTimeout
				}
				continue
			}
			r.Log.Error("receiver: read error", "port", r.Port, "error", err.Error())
			continue
		}

		freeBuf = freeBuf[:len(freeBuf)-1]

		peerAddr, _ := netip.AddrFromSlice(addr.IP.To4())
		readList = append(readList, pipeline.Datagram{
			PeerAddr:  peerAddr,
			LocalPort: r.Port,
			Buf:       buf,
			Length:    n,
		})

		if n == 0 && r.stopRequested.Load() {
			flushRead()
			r.Out.Put([]pipeline.Datagram{{Stop: true}})
			return nil
		}
	}
}

// maximizeRcvBuf halves SO_RCVBUF starting from 32MiB until the
// kernel accepts a value or we hit a 2KiB floor, matching the source's
// _set_socket_buffer loop.
func (r *Receiver) maximizeRcvBuf(conn *net.UDPConn) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return
	}

	size := 2 << 24 // 32MiB, matching the source's starting point
	for size > 2048 {
		var sockErr error
		ctrlErr := sc.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
		})
		if ctrlErr == nil && sockErr == nil {
			r.Log.Info("receiver: set SO_RCVBUF", "port", r.Port, "bytes", size)
			return
		}
		size /= 2
	}
	r.Log.Error("receiver: could not raise SO_RCVBUF above floor", "port", r.Port)
}
