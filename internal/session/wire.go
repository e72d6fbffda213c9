package session

import (
	"encoding/json"
	"time"

	"github.com/ultrasync-link/ultrasync/internal/errs"
	"github.com/ultrasync-link/ultrasync/internal/frame"
)

const fragHeaderLen = 3
const maxChunk = frame.MaxPayload - fragHeaderLen

// Fragment splits a JSON-marshalled datagram into a sequence of frame
// payloads, each at most frame.MaxPayload bytes, prefixed with a 3-byte
// {datagramID, totalFragments, fragmentIndex} header.
func Fragment(datagramID byte, payload []byte) ([][]byte, error) {
	total := (len(payload) + maxChunk - 1) / maxChunk
	if total == 0 {
		total = 1 // an empty payload still needs one fragment to carry the header
	}
	if total > 255 {
		return nil, errs.New(errs.PayloadTooLarge, "session.Fragment")
	}

	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunk
		end := start + maxChunk
		if end > len(payload) {
			end = len(payload)
		}

		chunk := make([]byte, fragHeaderLen+(end-start))
		chunk[0] = datagramID
		chunk[1] = byte(total)
		chunk[2] = byte(i)
		copy(chunk[fragHeaderLen:], payload[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Reassembler holds at most one datagram's worth of in-progress fragments,
// matching the half-duplex, single-transmitter nature of the acoustic
// channel.
type Reassembler struct {
	datagramID byte
	total      byte
	have       map[byte][]byte
	started    time.Time
	active     bool
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{have: make(map[byte][]byte)}
}

// staleAfter bounds how long an incomplete reassembly is held before being
// discarded as abandoned.
const staleAfter = 5 * time.Second

// Feed ingests one frame payload already stripped of the sync/length/
// checksum envelope by the Frame Codec. It returns the reassembled
// datagram bytes once every fragment has arrived, or nil while still
// waiting.
func (r *Reassembler) Feed(now time.Time, payload []byte) []byte {
	if len(payload) < fragHeaderLen {
		return nil // malformed, too short to carry a fragment header
	}

	id, total, idx := payload[0], payload[1], payload[2]
	chunk := payload[fragHeaderLen:]

	if r.active && now.Sub(r.started) > staleAfter {
		r.reset()
	}

	if !r.active || id != r.datagramID {
		r.reset()
		r.datagramID = id
		r.total = total
		r.active = true
		r.started = now
	}

	r.have[idx] = chunk

	if byte(len(r.have)) < r.total {
		return nil
	}

	out := make([]byte, 0, int(r.total)*maxChunk)
	for i := byte(0); i < r.total; i++ {
		c, ok := r.have[i]
		if !ok {
			return nil // gap in the sequence — keep waiting
		}
		out = append(out, c...)
	}

	r.reset()
	return out
}

func (r *Reassembler) reset() {
	r.have = make(map[byte][]byte)
	r.active = false
}

// Marshal is a small wrapper so callers don't need to import encoding/json
// directly just to build frames from a Datagram.
func Marshal(d Datagram) ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal parses reassembled datagram bytes back into a Datagram. A
// parse failure or a payload with an empty or missing "type" is reported
// as errs.DatagramMalformed; unknown type values are passed through.
func Unmarshal(data []byte) (Datagram, error) {
	var d Datagram
	if err := json.Unmarshal(data, &d); err != nil {
		return Datagram{}, errs.Wrap(errs.DatagramMalformed, "session.Unmarshal", err)
	}
	if d.Type == "" {
		return Datagram{}, errs.New(errs.DatagramMalformed, "session.Unmarshal")
	}
	return d, nil
}
