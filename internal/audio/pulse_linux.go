//go:build linux

// Package audio captures desktop audio from the PulseAudio default sink
// monitor and encodes it to Opus packets for the message channel.
package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"deskcast/internal/logging"
	"deskcast/internal/types"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameDuration = 20                                // ms
	frameSize     = sampleRate * frameDuration / 1000 // samples per channel
)

type PulseCapture struct {
	client  *pulse.Client
	stream  *pulse.RecordStream
	encoder *opus.Encoder
}

// pcmCollector implements pulse.Writer and receives raw PCM from PulseAudio.
type pcmCollector struct {
	mu     sync.Mutex
	buf    []int16
	format byte
}

func (p *pcmCollector) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Convert bytes to int16 samples (S16LE)
	n := len(data) / 2
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		p.buf = append(p.buf, sample)
	}
	return len(data), nil
}

func (p *pcmCollector) Format() byte {
	return p.format
}

// drain returns up to `count` int16 samples, removing them from the buffer
func (p *pcmCollector) drain(count int) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) < count {
		return nil
	}
	out := make([]int16, count)
	copy(out, p.buf[:count])
	p.buf = p.buf[count:]
	return out
}

func NewSource() (types.AudioSource, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("deskcast"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse connect: %w", err)
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	return &PulseCapture{client: client, encoder: enc}, nil
}

func (ac *PulseCapture) Run(packets chan<- *types.AudioPacket, stop <-chan struct{}) {
	logger := logging.GetLogger("audio")

	collector := &pcmCollector{format: proto.FormatInt16LE}

	// Record the default sink's monitor, not a microphone.
	sink, err := ac.client.DefaultSink()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to get default sink")
		return
	}

	stream, err := ac.client.NewRecord(
		collector,
		pulse.RecordMonitor(sink),
		pulse.RecordStereo,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(uint32(frameSize*channels*2)),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create record stream")
		return
	}
	ac.stream = stream
	stream.Start()

	opusBuf := make([]byte, 4000)
	samplesPerFrame := frameSize * channels

	ticker := time.NewTicker(frameDuration * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pcm := collector.drain(samplesPerFrame)
			if pcm == nil {
				continue
			}

			encoded, err := ac.encoder.Encode(pcm, opusBuf)
			if err != nil {
				logger.Warn().Err(err).Msg("opus encode failed")
				continue
			}

			pkt := &types.AudioPacket{
				Data:       make([]byte, encoded),
				DurationMs: frameDuration,
			}
			copy(pkt.Data, opusBuf[:encoded])

			select {
			case packets <- pkt:
			default:
			}
		}
	}
}

func (ac *PulseCapture) Close() {
	if ac.stream != nil {
		ac.stream.Stop()
	}
	ac.client.Close()
}
