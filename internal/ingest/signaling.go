package ingest

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// SignalingHandler implements the socket upgrade protocol and drives
// one session's signaling message loop for its lifetime.
//
// Grounded structurally on pkg/audio/webrtc/signaling.go's
// SignalingServer (one handler owning room/connection lookups), adapted
// from that file's HTTP join/ice/leave endpoints to a single
// long-lived WebSocket upgrade.
type SignalingHandler struct {
	Manager     *Manager
	Tickets     *TicketStore
	Storage     Storage
	NewPeerConn PeerConnectionFactory

	TargetSampleRate int
	BufferFrames     int
}

func (h *SignalingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ticketID := TicketId(r.URL.Query().Get("ticket_id"))
	projectIDRaw := r.URL.Query().Get("project_id")

	if ticketID == "" {
		h.reject(w, r, "Authentication ticket required")
		return
	}
	if projectIDRaw == "" {
		h.reject(w, r, "Project ID required")
		return
	}

	clientIP, err := clientIPFromRequest(r)
	if err != nil {
		h.reject(w, r, "Authentication ticket required")
		return
	}

	ticket, ok := h.Tickets.Validate(ticketID, clientIP, time.Now())
	if !ok {
		h.reject(w, r, "Authentication ticket required")
		return
	}

	projectID, err := ParseProjectId(projectIDRaw)
	if err != nil {
		h.reject(w, r, "Project ID required")
		return
	}
	project, found, err := h.Storage.LookupProject(r.Context(), projectID)
	if err != nil || !found {
		h.reject(w, r, "Project ID required")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	sc := h.Manager.NewSession(r.Context(), ticket.User, projectID)
	sock := NewOutboundSocket(sc.Context(), conn, 256)
	RegisterTyped(sc, KeyOutboundSocket, sock)
	RegisterTyped(sc, KeyUserIP, clientIP)
	if len(project.Vocabulary) > 0 {
		RegisterTyped(sc, KeyProjectVocabulary, project.Vocabulary)
	}

	h.sendCatchup(sc, project)

	h.runReceiveLoop(sc, sock, conn)
}

func (h *SignalingHandler) reject(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.Close(websocket.StatusPolicyViolation, reason)
}

func (h *SignalingHandler) sendCatchup(sc *SessionContext, project ProjectRecord) {
	rows, err := h.Storage.TranscriptsForProject(sc.Context(), project.ID)
	if err != nil {
		slog.Error("signaling: load transcripts for catchup failed", "session_id", sc.SessionId, "error", err)
	}
	var transcript string
	for _, row := range rows {
		transcript += row.Text + "\n"
	}

	sock, ok := GetTyped(sc, KeyOutboundSocket)
	if !ok {
		return
	}
	now := time.Now()
	_ = sock.Send(OutboundMessage{Type: MsgCatchup, Timestamp: now, Catchup: &CatchupPayload{Transcript: transcript}})
	_ = sock.Send(OutboundMessage{Type: MsgProjectMetadata, Timestamp: now, ProjectMetadata: &ProjectMetadataPayload{
		ProjectID:   project.ID.String(),
		ProjectName: project.Name,
	}})
}

// runReceiveLoop decodes inbound messages and dispatches them to the
// peer connection, until the transport closes or teardown begins.
func (h *SignalingHandler) runReceiveLoop(sc *SessionContext, sock *OutboundSocket, conn *websocket.Conn) {
	defer h.Manager.Teardown(sc.SessionId)
	defer sock.Close()

	var peerConn PeerConnection
	var pipeline *Pipeline

	for {
		msg, err := sock.Receive(sc.Context())
		if err != nil {
			return
		}

		switch msg.Type {
		case MsgOffer:
			if peerConn != nil {
				continue
			}
			peerConn = h.NewPeerConn()
			answer, err := peerConn.SetRemoteOffer(sc.Context(), msg.Offer.SDP.SDP)
			if err != nil {
				slog.Error("signaling: set remote offer failed", "session_id", sc.SessionId, "error", err)
				continue
			}
			RegisterTyped(sc, KeyPeerConn, peerConn)
			_ = sock.Send(OutboundMessage{Type: MsgAnswer, Timestamp: time.Now(), Answer: &AnswerPayload{SDP: SDPPayload{SDP: answer, Type: "answer"}}})

			pipeline = NewPipeline(h.Manager, sc, h.TargetSampleRate, h.BufferFrames)
			go h.forwardAudio(sc, pipeline, peerConn)

		case MsgICECandidate:
			if peerConn == nil {
				continue
			}
			cand, _, err := parseICECandidate(msg.ICECandidate.Candidate.Candidate, msg.ICECandidate.Candidate.SDPMid, msg.ICECandidate.Candidate.SDPMLineIndex)
			if err != nil {
				slog.Error("signaling: parse ice candidate failed", "session_id", sc.SessionId, "error", err)
				continue
			}
			if err := peerConn.AddICECandidate(cand); err != nil {
				slog.Error("signaling: add ice candidate failed", "session_id", sc.SessionId, "error", err)
			}

		case MsgPing:
			_ = sock.Send(OutboundMessage{Type: MsgPong, Timestamp: time.Now()})

		case MsgDismissAIAnalysis:
			id, err := ParseAnalysisId(msg.Dismiss.AnalysisID)
			if err != nil {
				continue
			}
			if err := h.Storage.DismissAnalysis(sc.Context(), id); err != nil {
				slog.Error("signaling: dismiss analysis failed", "session_id", sc.SessionId, "error", err)
			}
		}
	}
}

func (h *SignalingHandler) forwardAudio(sc *SessionContext, pipeline *Pipeline, peerConn PeerConnection) {
	defer pipeline.Close()
	defer func() {
		if err := peerConn.Close(); err != nil {
			slog.Error("signaling: close peer connection failed", "session_id", sc.SessionId, "error", err)
		}
	}()
	for {
		select {
		case <-sc.Context().Done():
			return
		case frame, ok := <-peerConn.AudioInput():
			if !ok {
				return
			}
			pipeline.Feed(sc.Context(), frame)
		}
	}
}

func clientIPFromRequest(r *http.Request) (string, error) {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd, nil
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	return host, nil
}
