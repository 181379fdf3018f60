package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/ingestd/internal/observe"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// maxChunksBeforeReset bounds how much audio one whisper.cpp context
// processes before it is torn down and recreated, the same
// forced-reset discipline the retrieval pack's Vosk recognizer wrapper
// uses to bound native memory growth
// (other_examples/.../internal-vosk-recognizer.go.go's
// maxChunksBeforeForceFinalize), adapted here from Vosk's C API to
// whisper.cpp's Go bindings.
const maxChunksBeforeReset = 500

// localRecognizerState is the per-session whisper.cpp context and
// accumulation buffer bound under KeyLocalRecognizer.
type localRecognizerState struct {
	mu     sync.Mutex
	model  whisperlib.Model
	wctx   whisperlib.Context
	lang   string

	buf        []float32
	chunkCount int
}

// NewLocalTranscriberConsumer builds the local (on-box) Streaming
// Transcriber variant bound to a shared whisper.cpp model
// §4.3.2). storage is handed to the shared text-acceptance path,
// acceptTranscript.
func NewLocalTranscriberConsumer(model whisperlib.Model, language string, storage Storage) ConsumerPair {
	return ConsumerPair{
		Name: "local_transcriber",
		OnChunk: func(sc *SessionContext, chunk AudioChunk) error {
			st, err := getOrCreateLocalRecognizer(sc, model, language)
			if err != nil {
				return err
			}
			return st.feed(sc, chunk, storage)
		},
		OnFinalize: func(sc *SessionContext) error {
			st, ok := GetTyped(sc, KeyLocalRecognizer)
			if !ok {
				return nil
			}
			if err := st.flush(sc, storage); err != nil {
				slog.Error("local transcriber final flush failed", "session_id", sc.SessionId, "error", err)
			}
			st.close()
			return nil
		},
	}
}

func getOrCreateLocalRecognizer(sc *SessionContext, model whisperlib.Model, language string) (*localRecognizerState, error) {
	if st, ok := GetTyped(sc, KeyLocalRecognizer); ok {
		return st, nil
	}
	st, err := newLocalRecognizerState(model, language)
	if err != nil {
		return nil, fmt.Errorf("create local recognizer: %w", err)
	}
	RegisterTyped(sc, KeyLocalRecognizer, st)
	return st, nil
}

func newLocalRecognizerState(model whisperlib.Model, language string) (*localRecognizerState, error) {
	wctx, err := model.NewContext()
	if err != nil {
		return nil, err
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return nil, err
		}
	}
	return &localRecognizerState{model: model, wctx: wctx, lang: language}, nil
}

// pcmWindowSamples is the accumulation threshold (2s at 16kHz mono)
// before the buffer is handed to whisper.cpp for inference.
const pcmWindowSamples = 32000

func (st *localRecognizerState) feed(sc *SessionContext, chunk AudioChunk, storage Storage) error {
	st.mu.Lock()
	st.buf = append(st.buf, pcmBytesToFloat32Mono(chunk.PCM)...)
	st.chunkCount++
	ready := len(st.buf) >= pcmWindowSamples
	st.mu.Unlock()

	if !ready {
		return nil
	}
	if err := st.flush(sc, storage); err != nil {
		return err
	}

	st.mu.Lock()
	reset := st.chunkCount >= maxChunksBeforeReset
	st.mu.Unlock()
	if reset {
		return st.reset()
	}
	return nil
}

func (st *localRecognizerState) flush(sc *SessionContext, storage Storage) error {
	st.mu.Lock()
	samples := st.buf
	st.buf = nil
	st.mu.Unlock()

	if len(samples) == 0 {
		return nil
	}

	start := time.Now()
	err := st.wctx.Process(samples, nil, nil, nil)
	observe.DefaultMetrics().RecordTranscription(context.Background(), "local", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("whisper process: %w", err)
	}

	var text string
	for {
		seg, err := st.wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("whisper next segment: %w", err)
		}
		text += seg.Text
	}
	return acceptTranscript(sc, storage, text)
}

func (st *localRecognizerState) reset() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	wctx, err := st.model.NewContext()
	if err != nil {
		return err
	}
	if st.lang != "" {
		if err := wctx.SetLanguage(st.lang); err != nil {
			return err
		}
	}
	st.wctx = wctx
	st.chunkCount = 0
	return nil
}

func (st *localRecognizerState) close() {
	// whisperlib.Context has no explicit Close; the shared model outlives
	// every session's context and is released once at process shutdown.
}

func pcmBytesToFloat32Mono(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(v) / 32768.0
	}
	return out
}
