package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/duel/events"
	"github.com/mcdev12/handduel/go/internal/duel/peer"
	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/duel/sampler"
	"github.com/mcdev12/handduel/go/internal/models"
)

// Channel is the coordination transport the session drives.
type Channel interface {
	Connect(ctx context.Context) error
	Connected() bool
	Send(msg events.Outbound) error
	OnMessage(fn func(events.Inbound))
	OnDisconnect(fn func(error))
	OnProtocolError(fn func(error))
	Close() error
}

// GestureSampler runs one capture and detection.
type GestureSampler interface {
	Sample(ctx context.Context) (models.DetectionSample, error)
}

// PeerLink is the media link to the opponent.
type PeerLink interface {
	HandleSignal(data json.RawMessage) error
	Close() error
}

// PeerFactory opens a link for a new match. Signals go out through relay.
type PeerFactory func(match models.Match, self models.ParticipantID, relay peer.Relay) (PeerLink, error)

type Config struct {
	Self           models.ParticipantID
	SamplePeriod   time.Duration
	ConnectTimeout time.Duration
}

func DefaultConfig(self models.ParticipantID) Config {
	return Config{
		Self:           self,
		SamplePeriod:   2 * time.Second,
		ConnectTimeout: 15 * time.Second,
	}
}

type Deps struct {
	Channel  Channel
	Sampler  GestureSampler
	Reporter *reporter.Reporter
	Peers    PeerFactory // optional
	Clock    clockwork.Clock
	Observer Observer
}

// Session is one participant's duel state machine. Fields marked loop-owned
// are touched only by Run; other goroutines reach the loop through events.
type Session struct {
	cfg      Config
	ch       Channel
	sampler  GestureSampler
	reporter *reporter.Reporter
	peers    PeerFactory
	clock    clockwork.Clock
	obs      Observer

	events chan event
	done   chan struct{}

	// loop-owned
	runCtx         context.Context
	state          State
	match          *models.Match
	round          string
	roundCtx       context.Context
	roundCancel    context.CancelFunc
	tracker        sampler.Tracker
	remaining      int
	countdown      clockwork.Ticker
	sampling       clockwork.Ticker
	blackout       clockwork.Timer
	sampleInFlight bool
	submitted      *models.Gesture
	outcome        *models.MatchOutcome
	link           PeerLink
	connectSeq     int
}

func New(cfg Config, deps Deps) *Session {
	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = 2 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}

	s := &Session{
		cfg:      cfg,
		ch:       deps.Channel,
		sampler:  deps.Sampler,
		reporter: deps.Reporter,
		peers:    deps.Peers,
		clock:    deps.Clock,
		obs:      deps.Observer,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		state:    StateIdle,
	}

	s.ch.OnMessage(func(msg events.Inbound) { s.post(inboundEvent{msg: msg}) })
	s.ch.OnDisconnect(func(err error) { s.post(disconnectedEvent{err: err}) })
	s.ch.OnProtocolError(func(err error) { s.post(protocolErrorEvent{err: err}) })
	return s
}

func (s *Session) Self() models.ParticipantID {
	return s.cfg.Self
}

// Run is the session loop. It returns when ctx is cancelled, after tearing
// down any live match and closing the channel.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer close(s.done)

	log.Info().Str("user_id", s.cfg.Self.String()).Msg("duel session started")
	for {
		select {
		case <-ctx.Done():
			s.teardownMatch()
			s.ch.Close()
			log.Info().Str("user_id", s.cfg.Self.String()).Msg("duel session stopped")
			return ctx.Err()

		case ev := <-s.events:
			ev.apply(s)

		case <-tickerChan(s.countdown):
			s.onCountdownTick()

		case <-tickerChan(s.sampling):
			s.onSampleTick()

		case <-timerChan(s.blackout):
			s.endBlackout()
		}
	}
}

// post hands an event to the loop. It gives up once the loop has exited.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// command runs fn on the loop and waits for its result.
func (s *Session) command(ctx context.Context, name string, fn func(*Session) error) error {
	reply := make(chan error, 1)
	select {
	case s.events <- commandEvent{name: name, fn: fn, reply: reply}:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join enters the matchmaking queue, connecting the channel first if needed.
func (s *Session) Join(ctx context.Context) error {
	return s.command(ctx, "join", (*Session).join)
}

// Ready marks the participant ready for the matched duel.
func (s *Session) Ready(ctx context.Context) error {
	return s.command(ctx, "ready", (*Session).ready)
}

func (s *Session) Unready(ctx context.Context) error {
	return s.command(ctx, "unready", (*Session).unready)
}

// PlayAgain offers a rematch after an outcome.
func (s *Session) PlayAgain(ctx context.Context) error {
	return s.command(ctx, "play_again", (*Session).playAgain)
}

// Teardown abandons any match, stops all timers and closes the channel. The
// session stays usable; a later Join reconnects.
func (s *Session) Teardown(ctx context.Context) error {
	return s.command(ctx, "teardown", func(s *Session) error {
		s.teardownMatch()
		s.ch.Close()
		s.setState(StateIdle)
		return nil
	})
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.command(ctx, "snapshot", func(s *Session) error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		State:      s.state,
		Self:       s.cfg.Self,
		Remaining:  s.remaining,
		LastKnown:  s.tracker.LastKnown(),
		Blackout:   s.blackout != nil,
		Connected:  s.ch.Connected(),
		RoundToken: s.round,
	}
	if s.match != nil {
		snap.MatchID = s.match.ID
		snap.Players = append([]models.ParticipantID(nil), s.match.Players[:]...)
		snap.Reporter = reporter.IsReporter(*s.match, s.cfg.Self)
	}
	if s.submitted != nil {
		g := *s.submitted
		snap.Submitted = &g
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	ev := log.Info().Str("from", from.String()).Str("state", to.String())
	if s.match != nil {
		ev = ev.Str("match_id", s.match.ID.String())
	}
	ev.Msg("duel state changed")
	s.obs.OnStateChange(from, to)
}

func (s *Session) fail(kind ErrorKind, err error) {
	f := Failure{Kind: kind, Err: err}
	ev := log.Error().Err(err).Str("kind", kind.String()).Str("state", s.state.String())
	if s.match != nil {
		ev = ev.Str("match_id", s.match.ID.String())
	}
	ev.Msg("duel session failure")
	s.obs.OnFailure(f)
}

// send writes to the channel, surfacing a transport failure.
func (s *Session) send(msg events.Outbound) bool {
	if err := s.ch.Send(msg); err != nil {
		s.fail(ErrorTransport, err)
		return false
	}
	return true
}

func (s *Session) join() error {
	if s.state != StateIdle {
		return ErrInvalidTransition
	}
	s.setState(StateQueued)

	if s.ch.Connected() {
		s.sendJoin()
		return nil
	}

	s.connectSeq++
	seq := s.connectSeq
	ctx := s.runCtx
	go func() {
		if s.cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
			defer cancel()
		}
		err := s.ch.Connect(ctx)
		s.post(connectedEvent{seq: seq, err: err})
	}()
	return nil
}

func (s *Session) onConnected(seq int, err error) {
	if seq != s.connectSeq || s.state != StateQueued {
		log.Debug().Int("seq", seq).Msg("ignoring stale connect result")
		// torn down while dialing; nobody owns the connection
		if err == nil && s.state == StateIdle {
			s.ch.Close()
		}
		return
	}
	if err != nil {
		s.fail(ErrorTransport, err)
		s.obs.OnStatus("Could not reach the duel server")
		s.setState(StateIdle)
		return
	}
	s.sendJoin()
}

func (s *Session) sendJoin() {
	if !s.send(events.Join(s.cfg.Self)) {
		s.setState(StateIdle)
		return
	}
	s.obs.OnStatus("Waiting for opponent...")
}

func (s *Session) ready() error {
	if s.state != StateMatched {
		return ErrInvalidTransition
	}
	if !s.send(events.Ready(s.cfg.Self)) {
		return ErrInvalidTransition
	}
	s.setState(StateReadyPending)
	return nil
}

func (s *Session) unready() error {
	if s.state != StateReadyPending {
		return ErrInvalidTransition
	}
	if !s.send(events.Unready(s.cfg.Self)) {
		return ErrInvalidTransition
	}
	s.setState(StateMatched)
	return nil
}

func (s *Session) playAgain() error {
	if s.state != StateResolved {
		return ErrInvalidTransition
	}
	if !s.send(events.PlayAgain(s.cfg.Self)) {
		return ErrInvalidTransition
	}
	s.setState(StateReplayOffered)
	return nil
}

// startRound opens a fresh round token for the current match: new
// idempotency key, new cancellation scope, clean detection history.
func (s *Session) startRound() {
	s.endRound()
	s.round = uuid.NewString()
	s.roundCtx, s.roundCancel = context.WithCancel(s.runCtx)
	s.tracker.Reset()
	s.submitted = nil
	s.outcome = nil
	s.remaining = 0
	s.reporter.Arm(s.round)
}

// endRound cancels in-flight work for the round and stops its timers.
func (s *Session) endRound() {
	s.stopBattleTimers()
	s.endBlackout()
	if s.roundCancel != nil {
		s.roundCancel()
	}
	s.roundCancel = nil
	s.sampleInFlight = false
}

// teardownMatch clears every trace of the current match.
func (s *Session) teardownMatch() {
	s.endRound()
	s.round = ""
	s.reporter.Disarm()
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close peer link")
		}
		s.link = nil
	}
	s.match = nil
	s.tracker.Reset()
	s.submitted = nil
	s.remaining = 0
}

func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}
