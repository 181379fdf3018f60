package ingest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// wavWriterState is the per-session resource the WAV writer consumer
// registers under KeyWAVWriter: an open file handle plus the running
// data-byte count needed to patch the RIFF size fields on finalize.
//
// Keeping the handle open across chunks (rather than reading+rewriting
// the whole file on every append) is a deliberate deviation documented
// in DESIGN.md.
type wavWriterState struct {
	f          *os.File
	sampleRate int
	channels   int
	dataBytes  uint32
}

const wavHeaderSize = 44

// NewWAVWriterConsumer returns the consumer pair that appends every
// chunk to a per-session WAV file. recordingsDir is the configured
// audio recordings directory.
//
// Grounded on pkg/provider/stt/whisper/whisper.go:encodeWAV's field
// layout, split here into an initial placeholder header (written once)
// and a finalize-time patch instead of one-shot buffer encoding.
func NewWAVWriterConsumer(recordingsDir string) ConsumerPair {
	return ConsumerPair{
		Name: "wav_writer",
		OnChunk: func(sc *SessionContext, chunk AudioChunk) error {
			st, ok := GetTyped(sc, KeyWAVWriter)
			if !ok {
				var err error
				st, err = openWAVWriter(recordingsDir, sc.SessionId.String(), chunk.SampleRate, chunk.Channels)
				if err != nil {
					return fmt.Errorf("wav writer: open: %w", err)
				}
				RegisterTyped(sc, KeyWAVWriter, st)
			}
			return st.append(chunk.PCM)
		},
		OnFinalize: func(sc *SessionContext) error {
			st, ok := GetTyped(sc, KeyWAVWriter)
			if !ok {
				return nil
			}
			return st.close()
		},
	}
}

func openWAVWriter(dir, sessionID string, sampleRate, channels int) (*wavWriterState, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("recording-%s.wav", sessionID))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	st := &wavWriterState{f: f, sampleRate: sampleRate, channels: channels}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		return nil, err
	}
	return st, nil
}

func (w *wavWriterState) append(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	n, err := w.f.Write(pcm)
	w.dataBytes += uint32(n)
	return err
}

// close patches the RIFF size fields with the final byte count — always
// using the sample rate/channel count the writer was opened with (the
// configured target rate), never a
// per-chunk value — and closes the handle.
func (w *wavWriterState) close() error {
	defer w.f.Close()

	header := make([]byte, wavHeaderSize)
	byteRate := w.sampleRate * w.channels * 2
	blockAlign := w.channels * 2

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+w.dataBytes)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], w.dataBytes)

	if _, err := w.f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("wav writer: patch header: %w", err)
	}
	return nil
}
