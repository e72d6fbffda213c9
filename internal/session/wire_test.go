package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ultrasync-link/ultrasync/internal/frame"
)

func Test_Fragment_ChunksRespectFrameCap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "payload")

		chunks, err := Fragment(7, payload)
		require.NoError(t, err)

		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), frame.MaxPayload)
		}
	})
}

func Test_Fragment_Reassemble_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "payload")
		id := rapid.Byte().Draw(t, "id")

		chunks, err := Fragment(id, payload)
		require.NoError(t, err)

		r := NewReassembler()
		now := time.Unix(1, 0)
		var got []byte
		for _, c := range chunks {
			if out := r.Feed(now, c); out != nil {
				got = out
			}
		}

		assert.Equal(t, payload, got)
	})
}

func Test_Reassembler_NewDatagramDiscardsStalePartial(t *testing.T) {
	r := NewReassembler()
	now := time.Unix(100, 0)

	chunks1, err := Fragment(1, []byte("0123456789012345678901234567890123456789012345678901234567890"))
	require.NoError(t, err)
	require.Greater(t, len(chunks1), 1)

	// Feed only the first fragment of datagram 1, then abandon it.
	r.Feed(now, chunks1[0])

	chunks2, err := Fragment(2, []byte("x"))
	require.NoError(t, err)

	out := r.Feed(now, chunks2[0])
	require.NotNil(t, out)
	assert.Equal(t, []byte("x"), out)
}

func Test_MarshalUnmarshal_RoundTrip(t *testing.T) {
	d := Datagram{Type: TypeHeartbeat, UserID: "a1b2c3d4e", Username: "Alice", Timestamp: 123}

	b, err := Marshal(d)
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func Test_Unmarshal_RejectsMissingType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"userId":"a"}`))
	require.Error(t, err)
}
