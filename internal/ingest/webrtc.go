package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PeerConnection abstracts the WebRTC peer connection backing one
// session's audio ingestion. Concrete pion/webrtc wiring is a pluggable
// collaborator out of scope for this module, mirroring
// pkg/audio/webrtc's own PeerTransport split between interface and
// mockTransport for its alpha release.
type PeerConnection interface {
	// SetRemoteOffer applies the client's SDP offer and returns the
	// local SDP answer.
	SetRemoteOffer(ctx context.Context, sdp string) (answerSDP string, err error)

	// AddICECandidate applies a remote ICE candidate. A zero-value
	// ParsedICECandidate (Foundation == "") signals end-of-candidates.
	AddICECandidate(c ParsedICECandidate) error

	// AudioInput delivers decoded raw audio frames from the peer.
	AudioInput() <-chan RawFrame

	Close() error
}

// PeerConnectionFactory constructs a PeerConnection for a new session.
// Supplied by the process entrypoint; exists so the ingest package never
// imports a concrete WebRTC stack directly.
type PeerConnectionFactory func() PeerConnection

// ParsedICECandidate is the decoded form of one ICE candidate line.
type ParsedICECandidate struct {
	Foundation string
	Component  int
	Protocol   string
	Priority   int64
	IP         string
	Port       int
	Type       string

	SDPMid        string
	SDPMLineIndex *int
}

// parseICECandidate splits an ICE candidate string into its component
// fields: [foundation-tag, component, protocol, priority, ip, port,
// "typ", type]. An empty candidate string signals end-of-candidates and
// returns the zero value with ok=true.
func parseICECandidate(candidate, sdpMid string, sdpMLineIndex *int) (ParsedICECandidate, bool, error) {
	if strings.TrimSpace(candidate) == "" {
		return ParsedICECandidate{}, true, nil
	}

	parts := strings.Fields(candidate)
	if len(parts) < 8 {
		return ParsedICECandidate{}, false, fmt.Errorf("ingest: malformed ice candidate %q", candidate)
	}

	foundationTag := parts[0]
	if idx := strings.Index(foundationTag, ":"); idx >= 0 {
		foundationTag = foundationTag[idx+1:]
	} else {
		return ParsedICECandidate{}, false, fmt.Errorf("ingest: malformed ice candidate foundation tag %q", parts[0])
	}

	component, err := strconv.Atoi(parts[1])
	if err != nil {
		return ParsedICECandidate{}, false, fmt.Errorf("ingest: malformed ice candidate component: %w", err)
	}
	priority, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return ParsedICECandidate{}, false, fmt.Errorf("ingest: malformed ice candidate priority: %w", err)
	}
	port, err := strconv.Atoi(parts[5])
	if err != nil {
		return ParsedICECandidate{}, false, fmt.Errorf("ingest: malformed ice candidate port: %w", err)
	}

	return ParsedICECandidate{
		Foundation:    foundationTag,
		Component:     component,
		Protocol:      parts[2],
		Priority:      priority,
		IP:            parts[4],
		Port:          port,
		Type:          parts[7],
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}, false, nil
}
