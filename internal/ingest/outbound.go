package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/coder/websocket"
)

// ErrSocketClosed is returned by Send after Close.
var ErrSocketClosed = errors.New("ingest: outbound socket closed")

// OutboundSocket serializes all sends from arbitrary producers through
// one writer task, guaranteeing single-writer semantics on the
// transport.
//
// Grounded on a task-group + writer-loop design, using
// github.com/coder/websocket for the transport (the same library used
// elsewhere in this codebase for provider sessions in
// pkg/provider/stt/deepgram/deepgram.go).
type OutboundSocket struct {
	conn *websocket.Conn

	queue chan OutboundMessage
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewOutboundSocket wraps an already-accepted websocket connection and
// starts its single writer goroutine. queueCapacity defaults to 256.
func NewOutboundSocket(ctx context.Context, conn *websocket.Conn, queueCapacity int) *OutboundSocket {
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	s := &OutboundSocket{
		conn:  conn,
		queue: make(chan OutboundMessage, queueCapacity),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop(ctx)
	return s
}

// Send enqueues msg for delivery, preserving enqueue order on the wire.
// Blocks when the queue is full (backpressure). Returns ErrSocketClosed
// if the socket has been closed.
func (s *OutboundSocket) Send(msg OutboundMessage) error {
	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrSocketClosed
	}
}

// Receive reads one inbound envelope from the transport and returns the
// decoded message. Only the session's main loop may call Receive.
func (s *OutboundSocket) Receive(ctx context.Context) (InboundMessage, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return InboundMessage{}, err
	}
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundMessage{}, err
	}
	return decodeInbound(env.Message)
}

// writeLoop is the single task permitted to write to the transport.
// Mirrors ConcurrentWebSocket._writer: drain the queue in arrival
// order, wrap each message in the {"message": ...} envelope, and close
// the transport once the queue is fully drained and closed.
func (s *OutboundSocket) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case msg, ok := <-s.queue:
			if !ok {
				_ = s.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(envelope{Message: msg})
			if err != nil {
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
				_ = s.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ctx.Done():
			_ = s.conn.Close(websocket.StatusNormalClosure, "context cancelled")
			return
		}
	}
}

// Close signals end-of-production: the writer drains the queue and then
// closes the transport. Idempotent.
func (s *OutboundSocket) Close() {
	s.once.Do(func() {
		close(s.done)
		close(s.queue)
		s.wg.Wait()
	})
}

// envelope is the wire-level `{"message": M}` framing.
type envelope struct {
	Message OutboundMessage `json:"message"`
}

type inboundEnvelope struct {
	Message json.RawMessage `json:"message"`
}
