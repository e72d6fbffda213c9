// Package frame implements the framed packet codec: sync-header alignment,
// length-prefixed payload, XOr checksum, and bit-stream resynchronisation
// after drop-outs, sitting directly on top of the modem's bit stream.
package frame

import "github.com/ultrasync-link/ultrasync/internal/errs"

// MaxPayload is the largest payload, in bytes, a single frame may carry.
const MaxPayload = 32

// SyncHeader is the fixed 8-byte alignment marker. Each element is a whole
// byte valued 0 or 1 — not a packed bit pattern — transmitted LSB-first
// like any other byte.
var SyncHeader = [8]byte{1, 0, 1, 0, 1, 1, 0, 1}

const (
	syncHeaderBytes = len(SyncHeader)
	minFrameBytes   = syncHeaderBytes + 2 // header + length + checksum, L=0
	minFrameBits    = minFrameBytes * 8
	syncHeaderBits  = syncHeaderBytes * 8
)

// byteToBitsLSB expands a byte into 8 bits, least-significant first.
func byteToBitsLSB(b byte) []int {
	bits := make([]int, 8)
	for i := 0; i < 8; i++ {
		bits[i] = int((b >> i) & 1)
	}
	return bits
}

// bitsToByteLSB packs 8 LSB-first bits back into a byte.
func bitsToByteLSB(bits []int) byte {
	var b byte
	for i := 0; i < 8 && i < len(bits); i++ {
		if bits[i] != 0 {
			b |= 1 << i
		}
	}
	return b
}

func checksum(payload []byte) byte {
	var c byte
	for _, b := range payload {
		c ^= b
	}
	return c
}

// Encode serialises payload into a full frame's worth of LSB-first bits:
// sync header, length byte, payload bytes, XOR checksum byte.
func Encode(payload []byte) ([]int, error) {
	if len(payload) > MaxPayload {
		return nil, errs.New(errs.PayloadTooLarge, "frame.Encode")
	}

	bits := make([]int, 0, (syncHeaderBytes+2+len(payload))*8)
	for _, b := range SyncHeader {
		bits = append(bits, byteToBitsLSB(b)...)
	}
	bits = append(bits, byteToBitsLSB(byte(len(payload)))...)
	for _, b := range payload {
		bits = append(bits, byteToBitsLSB(b)...)
	}
	bits = append(bits, byteToBitsLSB(checksum(payload))...)

	return bits, nil
}
