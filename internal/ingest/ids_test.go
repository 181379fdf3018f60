package ingest

import (
	"bytes"
	"testing"
)

func TestNewID_MonotonicallyIncreasingPrefix(t *testing.T) {
	a := NewSessionId()
	b := NewSessionId()
	if a.String() == b.String() {
		t.Fatal("two freshly generated session ids collided")
	}
	// The first 6 bytes hold the millisecond timestamp.
	if bytes.Compare(a.v[:6], b.v[:6]) > 0 {
		t.Errorf("timestamp prefix decreased: %x then %x", a.v[:6], b.v[:6])
	}
}

func TestSessionId_RoundTrip(t *testing.T) {
	id := NewSessionId()
	parsed, err := ParseSessionId(id.String())
	if err != nil {
		t.Fatalf("ParseSessionId: %v", err)
	}
	if parsed != id {
		t.Errorf("round-tripped session id = %v, want %v", parsed, id)
	}
}

func TestUserId_RoundTrip(t *testing.T) {
	id := NewUserId()
	parsed, err := ParseUserId(id.String())
	if err != nil {
		t.Fatalf("ParseUserId: %v", err)
	}
	if parsed != id {
		t.Errorf("round-tripped user id = %v, want %v", parsed, id)
	}
}

func TestProjectId_RoundTrip(t *testing.T) {
	id := NewProjectId()
	parsed, err := ParseProjectId(id.String())
	if err != nil {
		t.Fatalf("ParseProjectId: %v", err)
	}
	if parsed != id {
		t.Errorf("round-tripped project id = %v, want %v", parsed, id)
	}
}

func TestTranscriptId_RoundTrip(t *testing.T) {
	id := NewTranscriptId()
	parsed, err := ParseTranscriptId(id.String())
	if err != nil {
		t.Fatalf("ParseTranscriptId: %v", err)
	}
	if parsed != id {
		t.Errorf("round-tripped transcript id = %v, want %v", parsed, id)
	}
}

func TestAnalysisId_RoundTrip(t *testing.T) {
	id := NewAnalysisId()
	parsed, err := ParseAnalysisId(id.String())
	if err != nil {
		t.Fatalf("ParseAnalysisId: %v", err)
	}
	if parsed != id {
		t.Errorf("round-tripped analysis id = %v, want %v", parsed, id)
	}
}

func TestParseSessionId_RejectsGarbage(t *testing.T) {
	cases := []string{"", "not-base32!", "0000000000000000000000000"}
	for _, c := range cases {
		if _, err := ParseSessionId(c); err == nil {
			t.Errorf("ParseSessionId(%q): expected error, got nil", c)
		}
	}
}

func TestNewTicketID_IsUnpredictableAndUnique(t *testing.T) {
	a := newTicketID()
	b := newTicketID()
	if a == b {
		t.Fatal("two freshly generated ticket ids collided")
	}
	if len(a) == 0 {
		t.Fatal("ticket id is empty")
	}
}
