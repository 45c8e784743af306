package receiver

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/mikekim/ipfixd/internal/logger"
)

func testLogger() *logger.Logger {
	l, err := logger.New(logger.Config{Console: logger.ConsoleConfig{Enabled: true, Level: "error", Format: "text"}})
	if err != nil {
		panic(err)
	}
	return l
}

func TestNewAllocatesFreeList(t *testing.T) {
	r := New(Config{Port: 0, QueueSize: 4, BufferSize: 128}, testLogger())
	if r.Stats.BuffersAllocated.Load() != 4 {
		t.Fatalf("BuffersAllocated = %d, want 4", r.Stats.BuffersAllocated.Load())
	}
	if r.freeList.Len() != 4 {
		t.Fatalf("freeList.Len() = %d, want 4", r.freeList.Len())
	}
}

func TestReturnReplenishesFreeList(t *testing.T) {
	r := New(Config{Port: 0, QueueSize: 2, BufferSize: 64}, testLogger())
	batch, ok := r.freeList.TryGet()
	if !ok || len(batch) != 2 {
		t.Fatalf("TryGet = (%v, %v), want 2 buffers", batch, ok)
	}
	if r.freeList.Len() != 0 {
		t.Fatalf("freeList.Len() after drain = %d, want 0", r.freeList.Len())
	}

	r.Return(batch[0])
	if r.freeList.Len() != 1 {
		t.Fatalf("freeList.Len() after Return = %d, want 1", r.freeList.Len())
	}
}

// findFreePort asks the kernel for an ephemeral UDP port, then closes
// the probe socket immediately so Receiver.Run can rebind it; there is
// a narrow window where another process could steal it, acceptable for
// a test run in an isolated sandbox.
func findFreePort(t *testing.T) uint16 {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probing for a free UDP port: %v", err)
	}
	addr := pc.LocalAddr().(*net.UDPAddr)
	pc.Close()
	return uint16(addr.Port)
}

func TestRunReceivesDatagramAndStops(t *testing.T) {
	port := findFreePort(t)
	r := New(Config{Port: port, QueueSize: 8, BufferSize: 256}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	// Give Run a moment to bind before sending; GetTimeout below bounds
	// the actual wait for the datagram to arrive.
	time.Sleep(50 * time.Millisecond)

	out, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(int(port)))
	if err != nil {
		t.Fatalf("dialing test sender: %v", err)
	}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if _, err := out.Write(payload); err != nil {
		t.Fatalf("writing test datagram: %v", err)
	}
	out.Close()

	batch, ok := r.Out.GetTimeout(2 * time.Second)
	if !ok || len(batch) == 0 {
		t.Fatal("did not receive the test datagram on Out")
	}
	dg := batch[0]
	if dg.Stop {
		t.Fatal("first item should be the real datagram, not a Stop marker")
	}
	if dg.Length != len(payload) {
		t.Errorf("Length = %d, want %d", dg.Length, len(payload))
	}
	if string(dg.Buf[:dg.Length]) != string(payload) {
		t.Errorf("payload = %v, want %v", dg.Buf[:dg.Length], payload)
	}
	r.Return(dg.Buf)

	r.Stop()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if !r.Exited() {
		t.Error("Exited() should report true after Run returns")
	}
}
