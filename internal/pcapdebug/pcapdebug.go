// Package pcapdebug optionally mirrors every received datagram into a
// rotating pcap file, for troubleshooting an exporter in the field
// without adding a tap upstream of the collector.
package pcapdebug

import (
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer appends a synthetic Ethernet+IPv4+UDP frame per datagram to a
// size-rotated pcap file. Checksums are left zero: this is a debug
// capture of payload bytes and port/address metadata, not a faithful
// re-creation of the original wire frame.
type Writer struct {
	filename   string
	maxSizeMB  int
	maxBackups int

	mu           sync.Mutex
	file         *os.File
	writer       *pcapgo.Writer
	bytesWritten int64
}

// NewWriter creates (or truncates) filename and writes the pcap file
// header. maxSizeMB <= 0 disables size-based rotation; maxBackups <= 0
// disables keeping rotated-out files at all (each rotation just
// truncates filename again).
func NewWriter(filename string, maxSizeMB, maxBackups int) (*Writer, error) {
	w := &Writer{filename: filename, maxSizeMB: maxSizeMB, maxBackups: maxBackups}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// WritePacket appends one datagram, synthesizing an Ethernet/IPv4/UDP
// header around it so the payload reads naturally in a packet
// analyzer despite this collector never seeing the original frame.
func (w *Writer) WritePacket(srcAddr netip.Addr, srcPort uint16, dstPort uint16, payload []byte, ts time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSizeMB > 0 && w.bytesWritten > int64(w.maxSizeMB)*1024*1024 {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("pcapdebug: rotate: %w", err)
		}
	}

	frame := buildFrame(srcAddr, srcPort, dstPort, payload)
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}
	if err := w.writer.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("pcapdebug: write packet: %w", err)
	}
	w.bytesWritten += int64(len(frame))
	return nil
}

// Close closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *Writer) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	if w.maxBackups > 0 {
		for i := w.maxBackups - 1; i >= 0; i-- {
			oldName := w.backupName(i)
			newName := w.backupName(i + 1)
			if _, err := os.Stat(oldName); err == nil {
				if i == w.maxBackups-1 {
					os.Remove(oldName)
				} else {
					os.Rename(oldName, newName)
				}
			}
		}
		if _, err := os.Stat(w.filename); err == nil {
			os.Rename(w.filename, w.backupName(0))
		}
	}

	f, err := os.Create(w.filename)
	if err != nil {
		return fmt.Errorf("pcapdebug: create %s: %w", w.filename, err)
	}

	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("pcapdebug: write file header: %w", err)
	}

	w.file = f
	w.writer = writer
	w.bytesWritten = 0
	return nil
}

func (w *Writer) backupName(index int) string {
	if index == 0 {
		return w.filename + ".1"
	}
	return fmt.Sprintf("%s.%d", w.filename, index+1)
}

// buildFrame wraps payload in a minimal 14-byte zero Ethernet header,
// a 20-byte IPv4 header (no options, zero checksum), and an 8-byte UDP
// header (zero checksum — UDP allows this over IPv4). dstPort is the
// collector's own listening port; srcPort is unknown (UDP exporters'
// source port isn't carried in pipeline.Datagram) and is set to 0.
func buildFrame(srcAddr netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	const ethHeaderLen = 14
	const ipHeaderLen = 20
	const udpHeaderLen = 8

	total := ethHeaderLen + ipHeaderLen + udpHeaderLen + len(payload)
	frame := make([]byte, total)

	// Ethernet header: zero MACs, EtherType IPv4.
	frame[12] = 0x08
	frame[13] = 0x00

	ipOff := ethHeaderLen
	ipLen := ipHeaderLen + udpHeaderLen + len(payload)
	frame[ipOff+0] = 0x45 // version 4, IHL 5
	frame[ipOff+2] = byte(ipLen >> 8)
	frame[ipOff+3] = byte(ipLen)
	frame[ipOff+8] = 64   // TTL
	frame[ipOff+9] = 0x11 // protocol UDP
	src4 := srcAddr.As4()
	copy(frame[ipOff+12:ipOff+16], src4[:])
	// Destination address is unknown (the collector's own host); left
	// zero rather than guessed.

	udpOff := ipOff + ipHeaderLen
	udpLen := udpHeaderLen + len(payload)
	frame[udpOff+0] = byte(srcPort >> 8)
	frame[udpOff+1] = byte(srcPort)
	frame[udpOff+2] = byte(dstPort >> 8)
	frame[udpOff+3] = byte(dstPort)
	frame[udpOff+4] = byte(udpLen >> 8)
	frame[udpOff+5] = byte(udpLen)

	copy(frame[udpOff+udpHeaderLen:], payload)
	return frame
}
