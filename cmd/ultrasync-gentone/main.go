// Command ultrasync-gentone renders a single encoded frame to a WAV file,
// for checking a modem profile's tones on a scope or another decoder
// without wiring up a live microphone/speaker pair.
package main

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/pflag"

	"github.com/ultrasync-link/ultrasync/internal/frame"
	"github.com/ultrasync-link/ultrasync/internal/modem"
)

func main() {
	var (
		out     = pflag.StringP("out", "o", "tone.wav", "output WAV path")
		mode    = pflag.StringP("mode", "m", "high", "modem profile: high or low")
		volume  = pflag.Float64P("volume", "v", 0.8, "transmit volume, 0..1")
		payload = pflag.StringP("payload", "p", "hello", "payload bytes to encode (as text)")
	)
	pflag.Parse()

	var m modem.Mode
	switch *mode {
	case "high":
		m = modem.ModeHigh
	case "low":
		m = modem.ModeLow
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q, want high or low\n", *mode)
		os.Exit(1)
	}

	bits, err := frame.Encode([]byte(*payload))
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}

	gen := modem.NewGenerator(modem.DefaultSampleRate)
	pcm := gen.Render(bits, modem.ProfileFor(m), *volume)

	if err := writeWAV(*out, pcm, modem.DefaultSampleRate); err != nil {
		fmt.Fprintln(os.Stderr, "write wav:", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d samples (%d bits) to %s\n", len(pcm), len(bits), *out)
}

func writeWAV(path string, pcm []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	defer enc.Close()

	ints := make([]int, len(pcm))
	for i, s := range pcm {
		ints[i] = int(s * 32767)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   ints,
	}
	return enc.Write(buf)
}
