// Package ingest implements the per-session audio ingestion and
// transcription core: session lifecycle, audio fan-out, transcript
// coalescing, the outbound socket serializer, and the AI worker pool.
package ingest

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// id is a time-ordered 128-bit identifier: a 48-bit millisecond timestamp
// followed by 80 bits of CSPRNG entropy, encoded as Crockford base32 (the
// layout a ULID uses). No ULID library is present anywhere in this
// module's dependency surface or the wider retrieval corpus, so this is
// implemented directly on crypto/rand and encoding/base32 rather than
// introducing a fabricated dependency.
type id [16]byte

var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

func newID() id {
	var v id
	binary.BigEndian.PutUint64(v[0:8], uint64(time.Now().UnixMilli())<<16)
	if _, err := rand.Read(v[6:]); err != nil {
		panic(fmt.Sprintf("ingest: crypto/rand unavailable: %v", err))
	}
	return v
}

func (v id) String() string {
	return crockford.EncodeToString(v[:])
}

// SessionId identifies one client's audio-and-signaling conversation with
// the server, from socket accept to teardown.
type SessionId struct{ v id }

func NewSessionId() SessionId { return SessionId{newID()} }
func (s SessionId) String() string { return s.v.String() }

// UserId identifies an authenticated end user.
type UserId struct{ v id }

func NewUserId() UserId        { return UserId{newID()} }
func (u UserId) String() string { return u.v.String() }

// ParseUserId parses a previously rendered UserId string. Used when a
// caller (e.g. the HTTP ticket-issuing endpoint) receives a user id from
// an upstream auth layer that is out of scope for this module.
func ParseUserId(s string) (UserId, error) {
	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return UserId{}, fmt.Errorf("ingest: invalid user id %q", s)
	}
	var v id
	copy(v[:], raw)
	return UserId{v}, nil
}

// ProjectId identifies a project that groups sessions, transcripts, and
// AI analyses.
type ProjectId struct{ v id }

func NewProjectId() ProjectId     { return ProjectId{newID()} }
func (p ProjectId) String() string { return p.v.String() }

func ParseProjectId(s string) (ProjectId, error) {
	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return ProjectId{}, fmt.Errorf("ingest: invalid project id %q", s)
	}
	var v id
	copy(v[:], raw)
	return ProjectId{v}, nil
}

// TranscriptId identifies one persisted transcript row.
type TranscriptId struct{ v id }

func NewTranscriptId() TranscriptId  { return TranscriptId{newID()} }
func (t TranscriptId) String() string { return t.v.String() }

func ParseTranscriptId(s string) (TranscriptId, error) {
	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return TranscriptId{}, fmt.Errorf("ingest: invalid transcript id %q", s)
	}
	var v id
	copy(v[:], raw)
	return TranscriptId{v}, nil
}

// ParseSessionId parses a previously rendered SessionId string.
func ParseSessionId(s string) (SessionId, error) {
	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return SessionId{}, fmt.Errorf("ingest: invalid session id %q", s)
	}
	var v id
	copy(v[:], raw)
	return SessionId{v}, nil
}

// AnalysisId identifies one persisted AI analysis suggestion.
type AnalysisId struct{ v id }

func NewAnalysisId() AnalysisId      { return AnalysisId{newID()} }
func (a AnalysisId) String() string { return a.v.String() }

// ParseAnalysisId parses a previously rendered AnalysisId string, used
// when decoding a dismiss_ai_analysis inbound message.
func ParseAnalysisId(s string) (AnalysisId, error) {
	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return AnalysisId{}, fmt.Errorf("ingest: invalid analysis id %q", s)
	}
	var v id
	copy(v[:], raw)
	return AnalysisId{v}, nil
}

// TicketId is a 256-bit cryptographically random URL-safe string, distinct
// in shape from the time-ordered ids above: a ticket is a bearer
// credential, not a sortable record key, so it carries no timestamp.
type TicketId string

// newTicketID returns a fresh 256-bit CSPRNG URL-safe ticket id, the Go
// equivalent of Python's secrets.token_urlsafe(32).
func newTicketID() TicketId {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("ingest: crypto/rand unavailable: %v", err))
	}
	return TicketId(base64.RawURLEncoding.EncodeToString(buf))
}
