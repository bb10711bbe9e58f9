package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/models"
)

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("peer link closed")

const controlLabel = "duel"

// Role decides who sends the offer. Both sides derive it from the match alone.
type Role int

const (
	RoleAnswerer Role = iota
	RoleOfferer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// RoleFor makes the match initiator the offerer.
func RoleFor(match models.Match, self models.ParticipantID) Role {
	if match.Initiator() == self {
		return RoleOfferer
	}
	return RoleAnswerer
}

// Relay carries an opaque signal payload to the opponent.
type Relay func(data json.RawMessage) error

// MediaSource provides local tracks to publish. Nil means receive only.
type MediaSource interface {
	Tracks() ([]webrtc.TrackLocal, error)
}

type Config struct {
	ICEServers []string
	Media      MediaSource
	// ReceiveVideo adds a receive-only video transceiver when there are no local tracks.
	ReceiveVideo bool

	// Optional callbacks, invoked from pion goroutines.
	OnTrack       func(*webrtc.TrackRemote)
	OnStateChange func(webrtc.PeerConnectionState)
}

// Link is the point-to-point media session with the opponent.
type Link struct {
	pc    *webrtc.PeerConnection
	role  Role
	relay Relay
	match models.MatchID

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
}

// Open creates the peer connection and, for the offerer, sends the offer.
func Open(cfg Config, match models.Match, self models.ParticipantID, relay Relay) (*Link, error) {
	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	l := &Link{
		pc:    pc,
		role:  RoleFor(match, self),
		relay: relay,
		match: match.ID,
	}

	if err := l.addMedia(cfg.Media, cfg.ReceiveVideo); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(l.onICECandidate)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info().
			Str("match_id", l.match.String()).
			Str("role", l.role.String()).
			Str("state", state.String()).
			Msg("peer connection state changed")
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(state)
		}
	})
	if cfg.OnTrack != nil {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			cfg.OnTrack(track)
		})
	}

	if l.role == RoleOfferer {
		// media sections are optional; the data channel always gives ICE something to negotiate
		control, err := pc.CreateDataChannel(controlLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		control.OnOpen(func() {
			log.Debug().Str("match_id", l.match.String()).Msg("peer control channel open")
		})
		if err := l.offer(); err != nil {
			pc.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *Link) Role() Role {
	return l.role
}

// addMedia publishes local tracks, or a receive-only video transceiver when
// there are none. Missing media never fails the link.
func (l *Link) addMedia(media MediaSource, receiveVideo bool) error {
	var tracks []webrtc.TrackLocal
	if media != nil {
		var err error
		tracks, err = media.Tracks()
		if err != nil {
			log.Warn().Err(err).Str("match_id", l.match.String()).Msg("local media unavailable, continuing receive-only")
			tracks = nil
		}
	}

	for _, track := range tracks {
		if _, err := l.pc.AddTrack(track); err != nil {
			return fmt.Errorf("failed to add local track %s: %w", track.ID(), err)
		}
	}
	if len(tracks) == 0 && receiveVideo {
		_, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("failed to add receive-only transceiver: %w", err)
		}
	}
	return nil
}

func (l *Link) offer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return l.send(descriptionSignal(offer))
}

// HandleSignal applies one relayed payload from the opponent.
func (l *Link) HandleSignal(data json.RawMessage) error {
	s, err := decodeSignal(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if s.Type == signalCandidate && !l.remoteSet {
		l.pending = append(l.pending, *s.Candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	switch s.Type {
	case signalCandidate:
		if err := l.pc.AddICECandidate(*s.Candidate); err != nil {
			return fmt.Errorf("failed to add ICE candidate: %w", err)
		}
		return nil

	case signalOffer:
		if l.role == RoleOfferer {
			return fmt.Errorf("offerer received an offer")
		}
		if err := l.setRemote(s.description()); err != nil {
			return err
		}
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		if err := l.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
		return l.send(descriptionSignal(answer))

	case signalAnswer:
		if l.role != RoleOfferer {
			return fmt.Errorf("answerer received an answer")
		}
		return l.setRemote(s.description())
	}
	return nil
}

// setRemote applies the remote description and flushes buffered candidates.
func (l *Link) setRemote(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("match_id", l.match.String()).Msg("failed to add buffered ICE candidate")
		}
	}
	return nil
}

func (l *Link) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	if err := l.send(candidateSignal(c.ToJSON())); err != nil {
		log.Warn().Err(err).Str("match_id", l.match.String()).Msg("failed to relay ICE candidate")
	}
}

func (l *Link) send(s signal) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := l.relay(data); err != nil {
		return fmt.Errorf("relay %s signal: %w", s.Type, err)
	}
	return nil
}

// RemoteDescriptionSet reports whether negotiation reached the remote side.
func (l *Link) RemoteDescriptionSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSet
}

func (l *Link) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
	return l.pc.Close()
}
