package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/duel/events"
	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/models"
)

// handleInbound dispatches one server message. Messages that do not apply in
// the current state are logged and dropped.
func (s *Session) handleInbound(msg events.Inbound) {
	log.Debug().Str("action", string(msg.Action())).Str("state", s.state.String()).Msg("inbound message")

	switch m := msg.(type) {
	case events.Status:
		s.obs.OnStatus(m.Message)
	case events.MatchFound:
		s.onMatchFound(m)
	case events.SignalData:
		s.onSignal(m)
	case events.BattleStart:
		s.onBattleStart(m)
	case events.Blackout:
		s.onBlackout(m)
	case events.BattleEnd:
		s.onBattleEnd(m)
	case events.PlayerUnready:
		s.onPlayerUnready(m)
	case events.Replay:
		s.onReplay(m)
	case events.Disconnect:
		s.onOpponentDisconnect(m)
	case events.OpponentPlayAgain:
		s.obs.OnStatus(m.Message)
	default:
		log.Warn().Str("action", string(msg.Action())).Msg("unhandled inbound message")
	}
}

func (s *Session) ignore(msg events.Inbound) {
	log.Warn().
		Str("action", string(msg.Action())).
		Str("state", s.state.String()).
		Msg("ignoring message not valid in current state")
}

func (s *Session) logRejected(command string, err error) {
	log.Warn().Err(err).Str("command", command).Str("state", s.state.String()).Msg("command rejected")
}

func (s *Session) onMatchFound(m events.MatchFound) {
	if s.state != StateQueued {
		s.ignore(m)
		return
	}
	match, err := models.NewMatch(m.MatchID, m.Players)
	if err != nil {
		s.fail(ErrorProtocol, fmt.Errorf("match_found: %w", err))
		return
	}
	if !match.Has(s.cfg.Self) {
		s.fail(ErrorProtocol, fmt.Errorf("match_found %s does not include %s", match.ID, s.cfg.Self))
		return
	}

	s.teardownMatch()
	s.match = &match
	s.startRound()
	s.openPeerLink(match)

	s.setState(StateMatched)
	s.obs.OnMatchFound(match, reporter.IsReporter(match, s.cfg.Self))
}

// openPeerLink starts media negotiation. A failure only costs the video.
func (s *Session) openPeerLink(match models.Match) {
	if s.peers == nil {
		return
	}
	relay := func(data json.RawMessage) error {
		return s.ch.Send(events.Signal(data))
	}
	link, err := s.peers(match, s.cfg.Self, relay)
	if err != nil {
		s.fail(ErrorMedia, err)
		return
	}
	s.link = link
}

func (s *Session) onSignal(m events.SignalData) {
	if s.link == nil {
		log.Debug().Msg("dropping signal, no peer link")
		return
	}
	if err := s.link.HandleSignal(m.Data); err != nil {
		s.fail(ErrorMedia, err)
	}
}

func (s *Session) onPlayerUnready(m events.PlayerUnready) {
	s.obs.OnStatus("A player cancelled ready.")
	if m.UserID != nil && *m.UserID == s.cfg.Self && s.state == StateReadyPending {
		s.setState(StateMatched)
	}
}

func (s *Session) onReplay(m events.Replay) {
	if s.match == nil || (s.state != StateResolved && s.state != StateReplayOffered) {
		s.ignore(m)
		return
	}
	s.startRound()
	s.setState(StateMatched)
	if m.Message != "" {
		s.obs.OnStatus(m.Message)
	}
}

// onOpponentDisconnect ends the match. The channel is closed so the next
// Join starts from a fresh connection.
func (s *Session) onOpponentDisconnect(m events.Disconnect) {
	s.teardownMatch()
	s.ch.Close()
	s.setState(StateIdle)
	if m.Message != "" {
		s.obs.OnStatus(m.Message)
	}
}

func (s *Session) onDisconnected(err error) {
	if s.ch.Connected() {
		log.Debug().Err(err).Msg("ignoring disconnect from a replaced connection")
		return
	}
	s.teardownMatch()
	s.setState(StateIdle)
	if err == nil {
		err = errors.New("connection closed")
	}
	s.fail(ErrorTransport, err)
	s.obs.OnStatus("Connection closed.")
}

// onBattleEnd applies the server's authoritative outcome. Duplicate
// deliveries are tolerated: the reporter guard admits one submission per round.
// Only a round that saw battle_start accepts one, so a late copy from the
// previous round cannot claim the next round's submission.
func (s *Session) onBattleEnd(m events.BattleEnd) {
	if s.match == nil || !s.battleSeen() {
		s.ignore(m)
		return
	}
	match := *s.match

	s.stopBattleTimers()
	s.endBlackout()

	outcome := models.ComputeOutcome(match, m.Gestures).WithGameID(m.GameIDString())
	s.reconcile(outcome, m)

	duplicate := s.outcome != nil
	s.outcome = &outcome
	s.setState(StateResolved)
	if duplicate {
		log.Info().Str("match_id", match.ID.String()).Msg("duplicate battle_end")
	} else {
		s.obs.OnOutcome(outcome)
	}

	ticket, err := s.reporter.Claim(match)
	switch {
	case errors.Is(err, reporter.ErrNotReporter):
		return
	case errors.Is(err, reporter.ErrAlreadySubmitted), errors.Is(err, reporter.ErrNotArmed):
		log.Debug().Err(err).Str("match_id", match.ID.String()).Msg("skipping outcome submission")
		return
	case err != nil:
		s.fail(ErrorSubmission, err)
		return
	}

	ctx := s.runCtx
	go func() {
		sub, err := s.reporter.Submit(ctx, ticket, outcome)
		s.post(submittedEvent{ticket: ticket, sub: sub, err: err})
	}()
}

func (s *Session) battleSeen() bool {
	switch s.state {
	case StateBattling, StateResolving, StateResolved:
		return true
	}
	return false
}

// reconcile logs disagreements between the local view and the server's.
func (s *Session) reconcile(outcome models.MatchOutcome, m events.BattleEnd) {
	self := s.cfg.Self
	if s.submitted != nil {
		if server := outcome.GestureOf(self); server != *s.submitted {
			log.Warn().
				Str("match_id", outcome.MatchID().String()).
				Str("local", s.submitted.String()).
				Str("server", server.String()).
				Msg("server recorded a different gesture for self")
		}
	}

	winner, ok := outcome.Winner()
	if m.Winner.Draw != !ok || (ok && m.Winner.ID != winner) {
		log.Warn().
			Str("match_id", outcome.MatchID().String()).
			Str("computed", outcome.WinnerLabel()).
			Bool("server_draw", m.Winner.Draw).
			Str("server_winner", m.Winner.ID.String()).
			Msg("server winner disagrees with gestures")
	}
}

func (s *Session) onSubmitted(e submittedEvent) {
	if e.err != nil {
		s.fail(ErrorSubmission, e.err)
		s.reporter.Release(e.ticket)
		return
	}
	s.obs.OnSubmission(e.sub)
}
