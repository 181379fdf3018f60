package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/ingestd/internal/observe"
	"github.com/coder/websocket"
)

// CloudRecognizerConfig holds the vendor-facing connection details for the
// cloud diarizing recognizer.
type CloudRecognizerConfig struct {
	Endpoint   string
	APIKey     string
	SampleRate int
}

// cloudRecognizerState is the per-session cloud streaming connection,
// grounded directly on pkg/provider/stt/deepgram/deepgram.go's
// session/writeLoop/readLoop structure: provider callbacks arriving "on
// a vendor thread" are realized as the readLoop goroutine
// hopping back into acceptTranscript, the one cooperative-scheduler
// re-entry point the concurrency model requires.
type cloudRecognizerState struct {
	conn  *websocket.Conn
	audio chan []byte
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

type cloudResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewCloudTranscriberConsumer builds the cloud diarizing recognizer
// Streaming Transcriber variant.
func NewCloudTranscriberConsumer(cfg CloudRecognizerConfig, storage Storage) ConsumerPair {
	return ConsumerPair{
		Name: "cloud_transcriber",
		OnChunk: func(sc *SessionContext, chunk AudioChunk) error {
			st, err := getOrCreateCloudRecognizer(sc, cfg, storage)
			if err != nil {
				return err
			}
			return st.sendAudio(chunk.PCM)
		},
		OnFinalize: func(sc *SessionContext) error {
			st, ok := GetTyped(sc, KeyCloudRecognizer)
			if !ok {
				return nil
			}
			st.close()
			return nil
		},
	}
}

func getOrCreateCloudRecognizer(sc *SessionContext, cfg CloudRecognizerConfig, storage Storage) (*cloudRecognizerState, error) {
	if st, ok := GetTyped(sc, KeyCloudRecognizer); ok {
		return st, nil
	}
	st, err := dialCloudRecognizer(sc.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("dial cloud recognizer: %w", err)
	}
	RegisterTyped(sc, KeyCloudRecognizer, st)

	st.wg.Add(2)
	go st.writeLoop(sc.Context())
	go st.readLoop(sc.Context(), sc, storage)

	return st, nil
}

func dialCloudRecognizer(ctx context.Context, cfg CloudRecognizerConfig) (*cloudRecognizerState, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, err
	}
	return &cloudRecognizerState{
		conn:  conn,
		audio: make(chan []byte, 256),
		done:  make(chan struct{}),
	}, nil
}

func (s *cloudRecognizerState) sendAudio(pcm []byte) error {
	select {
	case <-s.done:
		return errors.New("ingest: cloud recognizer session is closed")
	default:
	}
	select {
	case s.audio <- pcm:
		return nil
	case <-s.done:
		return errors.New("ingest: cloud recognizer session is closed")
	}
}

func (s *cloudRecognizerState) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *cloudRecognizerState) readLoop(ctx context.Context, sc *SessionContext, storage Storage) {
	defer s.wg.Done()
	start := time.Now()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			observe.DefaultMetrics().RecordTranscription(context.Background(), "cloud", time.Since(start).Seconds(), err)
			return
		}
		var resp cloudResult
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		if err := acceptTranscript(sc, storage, resp.Channel.Alternatives[0].Transcript); err != nil {
			observe.DefaultMetrics().RecordTranscription(context.Background(), "cloud", time.Since(start).Seconds(), err)
			return
		}
	}
}

func (s *cloudRecognizerState) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.audio)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
}
