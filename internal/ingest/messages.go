package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message type discriminators.
const (
	MsgOffer              = "offer"
	MsgAnswer             = "answer"
	MsgICECandidate       = "ice_candidate"
	MsgTranscription      = "transcription"
	MsgAIResult           = "ai_result"
	MsgCatchup            = "catchup"
	MsgProjectMetadata    = "project_metadata"
	MsgPing               = "ping"
	MsgPong               = "pong"
	MsgDismissAIAnalysis  = "dismiss_ai_analysis"
	MsgError              = "error"
)

// SDPPayload is the nested `{sdp, type}` shape carried by offer/answer.
type SDPPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// ICECandidatePayload is the nested candidate shape carried by
// ice_candidate messages in both directions.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
}

type OfferPayload struct {
	SDP SDPPayload `json:"sdp"`
}

type AnswerPayload struct {
	SDP SDPPayload `json:"sdp"`
}

type ICEPayload struct {
	Candidate ICECandidatePayload `json:"candidate"`
}

type TranscriptionPayload struct {
	Text string `json:"text"`
}

type AIResultPayload struct {
	Text string `json:"text"`
}

type CatchupPayload struct {
	Transcript string   `json:"transcript"`
	Insights   []string `json:"insights"`
}

type ProjectMetadataPayload struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

type DismissAIAnalysisPayload struct {
	AnalysisID string `json:"analysis_id"`
}

type ErrorPayload struct {
	ErrorCode string  `json:"error_code"`
	Message   string  `json:"message"`
	SessionID *string `json:"session_id,omitempty"`
}

// OutboundMessage is the union of every message type the server may
// send. Exactly one payload field is populated, selected by Type.
// Grounded on the preference for explicit typed structs over
// map[string]any seen in pkg/provider/*/types.go, adapted to this
// protocol's single-envelope tagged union.
type OutboundMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Answer           *AnswerPayload            `json:"answer,omitempty"`
	ICECandidate     *ICEPayload               `json:"-"`
	Transcription    *TranscriptionPayload     `json:"-"`
	AIResult         *AIResultPayload          `json:"-"`
	Catchup          *CatchupPayload           `json:"-"`
	ProjectMetadata  *ProjectMetadataPayload   `json:"-"`
	Error            *ErrorPayload             `json:"-"`
}

// MarshalJSON flattens whichever payload is set into the top-level
// message object alongside type/timestamp, matching the wire shape
// `{"message": {"type": ..., "timestamp": ..., ...payload fields}}`
// (the outer `{"message": ...}` wrapping is added by envelope).
func (m OutboundMessage) MarshalJSON() ([]byte, error) {
	base := map[string]any{
		"type":      m.Type,
		"timestamp": m.Timestamp,
	}
	merge := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal(b, &fields); err != nil {
			return err
		}
		for k, v := range fields {
			base[k] = v
		}
		return nil
	}

	var err error
	switch m.Type {
	case MsgAnswer:
		if m.Answer != nil {
			err = merge(m.Answer)
		}
	case MsgICECandidate:
		if m.ICECandidate != nil {
			err = merge(m.ICECandidate)
		}
	case MsgTranscription:
		if m.Transcription != nil {
			err = merge(m.Transcription)
		}
	case MsgAIResult:
		if m.AIResult != nil {
			err = merge(m.AIResult)
		}
	case MsgCatchup:
		if m.Catchup != nil {
			err = merge(m.Catchup)
		}
	case MsgProjectMetadata:
		if m.ProjectMetadata != nil {
			err = merge(m.ProjectMetadata)
		}
	case MsgError:
		if m.Error != nil {
			err = merge(m.Error)
		}
	case MsgPong:
		// no payload beyond type/timestamp
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(base)
}

// InboundMessage is the union of every message type a client may send.
type InboundMessage struct {
	Type      string
	Timestamp time.Time

	Offer        *OfferPayload
	ICECandidate *ICEPayload
	Dismiss      *DismissAIAnalysisPayload
}

type inboundHeader struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// decodeInbound parses one message's raw JSON into an InboundMessage,
// dispatching on its "type" discriminator (two-pass decode: header
// first, then the type-specific payload).
func decodeInbound(raw json.RawMessage) (InboundMessage, error) {
	var hdr inboundHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return InboundMessage{}, fmt.Errorf("decode inbound header: %w", err)
	}
	msg := InboundMessage{Type: hdr.Type, Timestamp: hdr.Timestamp}

	switch hdr.Type {
	case MsgOffer:
		var p OfferPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return InboundMessage{}, fmt.Errorf("decode offer: %w", err)
		}
		msg.Offer = &p
	case MsgICECandidate:
		var p ICEPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return InboundMessage{}, fmt.Errorf("decode ice_candidate: %w", err)
		}
		msg.ICECandidate = &p
	case MsgDismissAIAnalysis:
		var p DismissAIAnalysisPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return InboundMessage{}, fmt.Errorf("decode dismiss_ai_analysis: %w", err)
		}
		msg.Dismiss = &p
	case MsgPing:
		// no payload
	default:
		return InboundMessage{}, fmt.Errorf("unknown inbound message type %q", hdr.Type)
	}
	return msg, nil
}
