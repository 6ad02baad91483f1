// Package audio provides in-memory WAV probing and encoding for the voice
// service. Backends ship raw WAV waveforms; the orchestrator needs their
// duration and sample rate without touching the filesystem.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gopxl/beep/wav"
)

// Probe describes a decoded WAV waveform.
type Probe struct {
	SampleRate      int
	Channels        int
	DurationSeconds float64
}

// ProbeWAV decodes the WAV header and reports sample rate, channel count
// and duration.
func ProbeWAV(data []byte) (*Probe, error) {
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav data: %w", err)
	}

	defer func() {
		// Closing a fully in-memory streamer cannot meaningfully fail.
		_ = streamer.Close()
	}()

	duration := format.SampleRate.D(streamer.Len()).Seconds()

	return &Probe{
		SampleRate:      int(format.SampleRate),
		Channels:        format.NumChannels,
		DurationSeconds: duration,
	}, nil
}

// WAV container layout constants for 16-bit PCM.
const (
	riffHeaderSize = 36
	pcmFormat      = 1
	bitsPerSample  = 16
	bytesPerSample = 2
)

// EncodeWAV wraps mono 16-bit PCM samples in a WAV container. The beep
// encoder writes only to an io.WriteSeeker, so in-memory encoding carries
// its own RIFF header here.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := len(samples) * bytesPerSample

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(riffHeaderSize+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(pcmFormat))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*bytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	_ = binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// Silence returns a silent mono waveform of the given duration, encoded as
// 16-bit PCM WAV. Used by tests and the client's dry-run mode.
func Silence(seconds float64, sampleRate int) []byte {
	return EncodeWAV(make([]int16, int(seconds*float64(sampleRate))), sampleRate)
}
