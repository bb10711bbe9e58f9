package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Signal payload types, compatible with simple-peer browser clients.
const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)

type signal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func descriptionSignal(desc webrtc.SessionDescription) signal {
	return signal{Type: desc.Type.String(), SDP: desc.SDP}
}

func candidateSignal(c webrtc.ICECandidateInit) signal {
	return signal{Type: signalCandidate, Candidate: &c}
}

func decodeSignal(data json.RawMessage) (signal, error) {
	var s signal
	if err := json.Unmarshal(data, &s); err != nil {
		return signal{}, fmt.Errorf("unmarshal signal: %w", err)
	}
	switch s.Type {
	case signalOffer, signalAnswer:
		if s.SDP == "" {
			return signal{}, fmt.Errorf("%s signal without sdp", s.Type)
		}
	case signalCandidate:
		if s.Candidate == nil {
			return signal{}, fmt.Errorf("candidate signal without candidate")
		}
	default:
		return signal{}, fmt.Errorf("unknown signal type %q", s.Type)
	}
	return s, nil
}

func (s signal) description() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(s.Type), SDP: s.SDP}
}
