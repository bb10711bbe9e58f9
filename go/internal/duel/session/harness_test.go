package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/handduel/go/internal/duel/events"
	"github.com/mcdev12/handduel/go/internal/duel/peer"
	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/models"
)

const waitTimeout = 5 * time.Second

var errFakeNotConnected = errors.New("fake channel not connected")

type fakeChannel struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	connects     int
	closes       int
	connectGate  chan struct{}
	sent         chan events.Outbound
	onMessage    func(events.Inbound)
	onDisconnect func(error)
	onProtocol   func(error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sent: make(chan events.Outbound, 256)}
}

func (c *fakeChannel) Connect(ctx context.Context) error {
	if c.connectGate != nil {
		select {
		case <-c.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) Send(msg events.Outbound) error {
	if !c.Connected() {
		return errFakeNotConnected
	}
	c.sent <- msg
	return nil
}

func (c *fakeChannel) OnMessage(fn func(events.Inbound)) { c.onMessage = fn }
func (c *fakeChannel) OnDisconnect(fn func(error))       { c.onDisconnect = fn }
func (c *fakeChannel) OnProtocolError(fn func(error))    { c.onProtocol = fn }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.connected = false
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// deliver plays a server message into the session, like the read pump does.
func (c *fakeChannel) deliver(msg events.Inbound) { c.onMessage(msg) }

// drop simulates the transport closing underneath the session.
func (c *fakeChannel) drop() {
	c.Close()
	c.onDisconnect(errors.New("connection reset by peer"))
}

type sampleResult struct {
	sample models.DetectionSample
	err    error
}

func detected(g models.Gesture) sampleResult {
	return sampleResult{sample: models.DetectionSample{Gesture: g}}
}

// scriptedSampler returns its results in call order, then Unknown. With a
// gate it blocks each call until released or cancelled.
type scriptedSampler struct {
	mu      sync.Mutex
	results []sampleResult
	calls   int
	gate    chan struct{}
}

func (s *scriptedSampler) Sample(ctx context.Context) (models.DetectionSample, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.DetectionSample{}, ctx.Err()
		}
	}
	if i >= len(s.results) {
		return models.DetectionSample{Gesture: models.GestureUnknown}, nil
	}
	return s.results[i].sample, s.results[i].err
}

func (s *scriptedSampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingSubmitter struct {
	mu   sync.Mutex
	keys []string
	errs []error // consumed per call
}

func (c *countingSubmitter) Submit(_ context.Context, _ models.MatchOutcome, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "1", nil
}

func (c *countingSubmitter) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

type recorder struct {
	states      chan State
	statuses    chan string
	countdown   chan int
	detections  chan models.DetectionSample
	blackouts   chan bool
	gestures    chan models.Gesture
	outcomes    chan models.MatchOutcome
	submissions chan reporter.Submission
	failures    chan Failure
}

func newRecorder() *recorder {
	return &recorder{
		states:      make(chan State, 64),
		statuses:    make(chan string, 64),
		countdown:   make(chan int, 64),
		detections:  make(chan models.DetectionSample, 64),
		blackouts:   make(chan bool, 64),
		gestures:    make(chan models.Gesture, 64),
		outcomes:    make(chan models.MatchOutcome, 64),
		submissions: make(chan reporter.Submission, 64),
		failures:    make(chan Failure, 64),
	}
}

func (r *recorder) OnStateChange(_, to State)                 { r.states <- to }
func (r *recorder) OnStatus(message string)                   { r.statuses <- message }
func (r *recorder) OnMatchFound(models.Match, bool)           {}
func (r *recorder) OnCountdown(remaining int)                 { r.countdown <- remaining }
func (r *recorder) OnDetection(sample models.DetectionSample) { r.detections <- sample }
func (r *recorder) OnBlackout(active bool)                    { r.blackouts <- active }
func (r *recorder) OnGestureSubmitted(g models.Gesture)       { r.gestures <- g }
func (r *recorder) OnOutcome(o models.MatchOutcome)           { r.outcomes <- o }
func (r *recorder) OnSubmission(sub reporter.Submission)      { r.submissions <- sub }
func (r *recorder) OnFailure(f Failure)                       { r.failures <- f }

type fakeLink struct {
	mu      sync.Mutex
	signals []json.RawMessage
	closed  bool
}

func (l *fakeLink) HandleSignal(data json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, data)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type harness struct {
	t       *testing.T
	s       *Session
	ch      *fakeChannel
	clock   *clockwork.FakeClock
	rec     *recorder
	sub     *countingSubmitter
	sampler *scriptedSampler
	links   chan *fakeLink
}

func newHarness(t *testing.T, self models.ParticipantID, samples ...sampleResult) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ch:      newFakeChannel(),
		clock:   clockwork.NewFakeClock(),
		rec:     newRecorder(),
		sub:     &countingSubmitter{},
		sampler: &scriptedSampler{results: samples},
		links:   make(chan *fakeLink, 8),
	}

	cfg := DefaultConfig(self)
	h.s = New(cfg, Deps{
		Channel:  h.ch,
		Sampler:  h.sampler,
		Reporter: reporter.New(self, h.sub, 0, h.clock),
		Peers: func(match models.Match, self models.ParticipantID, relay peer.Relay) (PeerLink, error) {
			link := &fakeLink{}
			if peer.RoleFor(match, self) == peer.RoleOfferer {
				if err := relay(json.RawMessage(`{"type":"offer","sdp":"v=0"}`)); err != nil {
					return nil, err
				}
			}
			h.links <- link
			return link, nil
		},
		Clock:    h.clock,
		Observer: h.rec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timed out waiting for %s", what)
		return zero
	}
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	h.t.Cleanup(cancel)
	return ctx
}

// sync round-trips through the loop so every event posted before it is applied.
func (h *harness) sync() Snapshot {
	h.t.Helper()
	snap, err := h.s.Snapshot(h.ctx())
	if err != nil {
		h.t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	for {
		if got := recv(h.t, h.rec.states, "state "+want.String()); got == want {
			return
		}
	}
}

// nextSent returns the next outbound message, skipping peer signals.
func (h *harness) nextSent() events.Outbound {
	h.t.Helper()
	for {
		msg := recv(h.t, h.ch.sent, "outbound message")
		if msg.Action != events.ActionSignal {
			return msg
		}
	}
}

func (h *harness) expectSent(action events.Action) events.Outbound {
	h.t.Helper()
	msg := h.nextSent()
	if msg.Action != action {
		h.t.Fatalf("sent %q, want %q", msg.Action, action)
	}
	return msg
}

// joinAndMatch drives Idle → Matched for match "3_7".
func (h *harness) joinAndMatch() {
	h.t.Helper()
	if err := h.s.Join(h.ctx()); err != nil {
		h.t.Fatalf("Join() error = %v", err)
	}
	h.expectSent(events.ActionJoin)
	h.ch.deliver(events.MatchFound{MatchID: "3_7", Players: []models.ParticipantID{3, 7}})
	h.waitState(StateMatched)
}

// startBattle readies up and starts a battle of the given duration.
func (h *harness) startBattle(duration int) {
	h.t.Helper()
	if err := h.s.Ready(h.ctx()); err != nil {
		h.t.Fatalf("Ready() error = %v", err)
	}
	h.expectSent(events.ActionReady)
	h.ch.deliver(events.BattleStart{Duration: duration})
	if duration > 0 {
		if got := recv(h.t, h.rec.countdown, "initial countdown"); got != duration {
			h.t.Fatalf("initial countdown = %d, want %d", got, duration)
		}
	}
}

// tick advances one second and waits for the countdown to reflect it.
func (h *harness) tick(wantRemaining int) {
	h.t.Helper()
	h.clock.Advance(time.Second)
	if got := recv(h.t, h.rec.countdown, "countdown tick"); got != wantRemaining {
		h.t.Fatalf("countdown = %d, want %d", got, wantRemaining)
	}
}

func battleEnd(winner models.ParticipantID, gestures map[models.ParticipantID]models.Gesture) events.BattleEnd {
	return events.BattleEnd{Winner: events.Winner{ID: winner}, Gestures: gestures}
}
