package ingest

import (
	"context"
	"log/slog"

	"github.com/MrWong99/ingestd/internal/observe"
	"github.com/MrWong99/ingestd/pkg/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AudioChunk is the normalized unit handed to every consumer: 16-bit
// mono PCM at the session's target sample rate. Frames are carried as a
// single flat byte slice: Go's audio.Convert already returns one
// contiguous buffer per input frame, and this pipeline concatenates
// those into one flush buffer.
type AudioChunk struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// RawFrame is one decoded frame as delivered by the WebRTC transport,
// before normalization: interleaved or planar PCM at an arbitrary rate
// and channel count.
type RawFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// ConsumerPair is (on_chunk, on_finalize), scheduled serially per
// session.
type ConsumerPair struct {
	Name       string
	OnChunk    func(sc *SessionContext, chunk AudioChunk) error
	OnFinalize func(sc *SessionContext) error
}

// Pipeline decodes a live audio track, normalizes every frame to mono
// PCM at the configured target rate, and drives the session's consumer
// list once enough frames have accumulated. Grounded on pkg/audio/convert.go's
// FormatConverter, adapted from a Discord/mixer frame source to a
// WebRTC track source.
type Pipeline struct {
	sc         *SessionContext
	mgr        *Manager
	targetRate int
	bufferN    int

	buf      []byte
	buffered int
}

// NewPipeline creates a Pipeline bound to sc. bufferFrames is the number
// of normalized frames accumulated before a flush (default 100).
func NewPipeline(mgr *Manager, sc *SessionContext, targetRate, bufferFrames int) *Pipeline {
	if bufferFrames <= 0 {
		bufferFrames = 100
	}
	mgr.setActiveAudioSession(sc.SessionId)
	return &Pipeline{sc: sc, mgr: mgr, targetRate: targetRate, bufferN: bufferFrames}
}

// Feed normalizes one raw frame and flushes an AudioChunk to the
// manager's consumer fan-out once bufferN frames have accumulated.
// Zero-length frames are dropped.
func (p *Pipeline) Feed(ctx context.Context, frame RawFrame) {
	if len(frame.PCM) == 0 {
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: p.targetRate, Channels: 1}}
	af := conv.Convert(audio.AudioFrame{Data: frame.PCM, SampleRate: frame.SampleRate, Channels: frame.Channels})
	if len(af.Data) == 0 {
		return
	}

	p.buf = append(p.buf, af.Data...)
	p.buffered++
	if p.buffered >= p.bufferN {
		p.flush()
	}
}

// flush delivers the accumulated buffer to the session's consumers and
// resets pipeline state.
func (p *Pipeline) flush() {
	if len(p.buf) == 0 {
		p.buffered = 0
		return
	}
	chunk := AudioChunk{PCM: p.buf, SampleRate: p.targetRate, Channels: 1}
	p.buf = nil
	p.buffered = 0
	observe.DefaultMetrics().AudioChunksProcessed.Add(p.sc.Context(), 1,
		metric.WithAttributes(attribute.String("session_id", p.sc.SessionId.String())))
	p.mgr.IngestAudio(p.sc, chunk)
}

// Close flushes any remaining buffered frames and runs every consumer's
// finalizer, then clears the session's active-audio flag.
func (p *Pipeline) Close() {
	p.flush()
	p.mgr.FinalizeAudio(p.sc)
	slog.Debug("audio pipeline closed", "session_id", p.sc.SessionId)
}
