// Package pipeline defines the message types carried on the batched
// queues between the Receiver, Decoder, and Writer stages. The source
// this design is descended from used a zero-length byte sentinel to
// signal "stop" on every queue, forcing a length check on the hot
// path; here Stop is an explicit tagged field instead; the channel's
// ordinary Data path never has to special-case a magic length.
package pipeline

import "net/netip"

// Datagram is one received UDP packet, queued from the Receiver to the
// Decoder. Buf is owned by the receiver's buffer pool; the Decoder
// must call the Receiver's Return method once it is done reading it,
// never retain it past that.
type Datagram struct {
	PeerAddr  netip.Addr
	LocalPort uint16
	Buf       []byte
	Length    int
	Stop      bool
}

// OutputBlob is one encoded byte blob (a run of cflowd records, or a
// filtered raw-ipfix image), queued from the Decoder to a Writer.
type OutputBlob struct {
	Data []byte
	Stop bool
}
