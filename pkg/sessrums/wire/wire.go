// Package wire is the recommended, optional wire format for carrying
// session values across a real transport.Sender/Receiver[[]byte] pair
// (spec.md §6): a one-byte format version, a one-byte frame kind (value or
// choice-label), and a msgpack-encoded payload, each frame length-prefixed
// so a stream transport (a TCP connection, for instance) can delimit
// frames without its own framing.
//
// The version byte is grounded on the teacher's RPCHeader/checkRPCHeader
// pair (pkg/mcast/protocol.go): reject anything newer than this package
// understands before attempting to decode it, rather than letting msgpack
// fail confusingly on a format it was never meant to read.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dikini/sessrums"
)

// Version is the current frame format version this package writes and the
// highest version it will decode.
const Version uint8 = 1

// Kind tags what a frame's payload holds.
type Kind uint8

const (
	// KindValue is an ordinary protocol payload (Send/Recv).
	KindValue Kind = iota
	// KindChoice is a branch label (Choose/Offer, or session.Select/Offer).
	KindChoice
)

// frameHeader is the 2-byte prefix before every frame's length-prefixed
// msgpack body: [version, kind].
type frameHeader struct {
	Version uint8
	Kind    Kind
}

// Encode writes one frame for v, tagged kind, to w: a 2-byte header, a
// 4-byte big-endian length, then the msgpack-encoded v.
func Encode(w io.Writer, kind Kind, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return sessrums.NewSerializationError("msgpack encode failed", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	hdr := frameHeader{Version: Version, Kind: kind}
	if _, err := w.Write([]byte{hdr.Version, byte(hdr.Kind)}); err != nil {
		return sessrums.NewIOError("writing frame header failed", err)
	}
	if _, err := w.Write(lenBuf[:]); err != nil {
		return sessrums.NewIOError("writing frame length failed", err)
	}
	if _, err := w.Write(body); err != nil {
		return sessrums.NewIOError("writing frame body failed", err)
	}
	return nil
}

// Decode reads one frame from r and msgpack-decodes its body into out
// (which must be a non-nil pointer). It returns the frame's Kind.
func Decode(r io.Reader, out interface{}) (Kind, error) {
	var raw [2]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, sessrums.NewIOError("reading frame header failed", err)
	}
	hdr := frameHeader{Version: raw[0], Kind: Kind(raw[1])}
	if hdr.Version > Version {
		return 0, sessrums.NewSerializationError(
			fmt.Sprintf("frame version %d is newer than the highest version %d this package decodes", hdr.Version, Version), nil)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, sessrums.NewIOError("reading frame length failed", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, sessrums.NewIOError("reading frame body failed", err)
	}

	if err := msgpack.Unmarshal(body, out); err != nil {
		return 0, sessrums.NewSerializationError("msgpack decode failed", err)
	}
	return hdr.Kind, nil
}
