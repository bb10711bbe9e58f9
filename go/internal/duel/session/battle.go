package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/duel/events"
)

func (s *Session) onBattleStart(m events.BattleStart) {
	if s.match == nil || (s.state != StateMatched && s.state != StateReadyPending) {
		s.ignore(m)
		return
	}

	s.stopBattleTimers()
	s.tracker.Reset()
	s.submitted = nil
	s.remaining = m.Duration

	s.setState(StateBattling)
	if s.remaining <= 0 {
		s.expire()
		return
	}
	s.countdown = s.clock.NewTicker(time.Second)
	s.sampling = s.clock.NewTicker(s.cfg.SamplePeriod)
	s.obs.OnCountdown(s.remaining)
}

func (s *Session) onCountdownTick() {
	if s.state != StateBattling {
		s.stopBattleTimers()
		return
	}
	s.remaining--
	s.obs.OnCountdown(s.remaining)
	if s.remaining <= 0 {
		s.expire()
	}
}

func (s *Session) onSampleTick() {
	if s.state != StateBattling {
		s.stopBattleTimers()
		return
	}
	if s.sampleInFlight {
		log.Debug().Msg("previous detection still running, skipping sample")
		return
	}
	s.sampleInFlight = true
	s.detect(false)
}

// expire ends the battle window: sampling stops and one final on-demand
// detection decides the submitted gesture.
func (s *Session) expire() {
	s.stopBattleTimers()
	s.remaining = 0
	s.setState(StateResolving)
	s.detect(true)
}

// detect runs one detection off-loop, scoped to the current round.
func (s *Session) detect(final bool) {
	round, ctx := s.round, s.roundCtx
	go func() {
		sample, err := s.sampler.Sample(ctx)
		s.post(sampledEvent{round: round, final: final, sample: sample, err: err})
	}()
}

func (s *Session) onSampled(e sampledEvent) {
	if e.round != s.round {
		log.Debug().Bool("final", e.final).Msg("dropping detection from an earlier round")
		return
	}
	if !e.final {
		s.sampleInFlight = false
	}

	switch {
	case e.final && s.state == StateResolving && s.submitted == nil:
		s.resolveGesture(e)
	case !e.final && (s.state == StateBattling || s.state == StateResolving) && s.submitted == nil:
		if e.err != nil {
			s.fail(ErrorDetection, e.err)
			return
		}
		s.tracker.Observe(e.sample)
		s.obs.OnDetection(e.sample)
	default:
		log.Debug().Bool("final", e.final).Str("state", s.state.String()).Msg("dropping late detection")
	}
}

// resolveGesture applies the fallback policy and sends the gesture.
func (s *Session) resolveGesture(e sampledEvent) {
	if e.err != nil {
		s.fail(ErrorDetection, e.err)
	} else {
		s.obs.OnDetection(e.sample)
	}
	gesture := s.tracker.Resolve(e.sample, e.err)
	s.submitted = &gesture

	log.Info().
		Str("match_id", s.match.ID.String()).
		Str("gesture", gesture.String()).
		Str("last_known", s.tracker.LastKnown().String()).
		Msg("submitting gesture")
	s.send(events.SubmitGesture(s.cfg.Self, gesture, s.tracker.LastKnown()))
	s.obs.OnGestureSubmitted(gesture)
}

func (s *Session) onBlackout(m events.Blackout) {
	if s.state != StateBattling && s.state != StateResolving {
		s.ignore(m)
		return
	}
	if s.blackout != nil {
		s.blackout.Stop()
	}
	s.blackout = s.clock.NewTimer(time.Duration(m.Duration) * time.Second)
	s.obs.OnBlackout(true)
}

// endBlackout lifts an active blackout. It is a no-op when none is active.
func (s *Session) endBlackout() {
	if s.blackout == nil {
		return
	}
	s.blackout.Stop()
	s.blackout = nil
	s.obs.OnBlackout(false)
}

func (s *Session) stopBattleTimers() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	if s.sampling != nil {
		s.sampling.Stop()
		s.sampling = nil
	}
}
