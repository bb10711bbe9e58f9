package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/models"
)

var (
	// ErrNotReporter means this participant lost the election and must not submit.
	ErrNotReporter = errors.New("participant is not the elected reporter")
	// ErrAlreadySubmitted means the current round's outcome was already claimed.
	ErrAlreadySubmitted = errors.New("outcome already submitted for this round")
	// ErrNotArmed means no round is open.
	ErrNotArmed = errors.New("no round armed")
)

// Submitter is the outcome-submission interface. It returns the persisted record id.
type Submitter interface {
	Submit(ctx context.Context, outcome models.MatchOutcome, idempotencyKey string) (string, error)
}

// Mirror receives a copy of every successful submission.
type Mirror interface {
	Publish(ctx context.Context, sub Submission) error
}

// Submission is a completed outcome report.
type Submission struct {
	Key         string
	Outcome     models.MatchOutcome
	GameID      string
	SubmittedBy models.ParticipantID
	At          time.Time
}

// Ticket authorizes exactly one submission for one round.
type Ticket struct {
	Key   string
	Match models.MatchID
}

// IsReporter is the election rule: the match initiator reports.
func IsReporter(match models.Match, self models.ParticipantID) bool {
	return match.Initiator() == self
}

// Reporter submits each round's outcome at most once. The guard methods (Arm,
// Claim, Armed) are owned by the session loop and are not safe for concurrent
// use; Submit only reads immutable fields and runs off-loop.
type Reporter struct {
	self      models.ParticipantID
	submitter Submitter
	mirrors   []Mirror
	timeout   time.Duration
	clock     clockwork.Clock

	round   string
	claimed bool
}

func New(self models.ParticipantID, submitter Submitter, timeout time.Duration, clock clockwork.Clock, mirrors ...Mirror) *Reporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reporter{
		self:      self,
		submitter: submitter,
		mirrors:   mirrors,
		timeout:   timeout,
		clock:     clock,
	}
}

// Arm opens the guard for a round. Re-arming with the current key is a no-op,
// so only a new round (new match or replay) resets it.
func (r *Reporter) Arm(roundKey string) {
	if roundKey == r.round {
		return
	}
	r.round = roundKey
	r.claimed = false
}

// Disarm closes the guard until the next Arm.
func (r *Reporter) Disarm() {
	r.round = ""
	r.claimed = false
}

// Armed reports whether the current round can still be claimed.
func (r *Reporter) Armed() bool {
	return r.round != "" && !r.claimed
}

// Claim checks the election and the guard, and consumes the round.
func (r *Reporter) Claim(match models.Match) (Ticket, error) {
	if !IsReporter(match, r.self) {
		return Ticket{}, ErrNotReporter
	}
	if r.round == "" {
		return Ticket{}, ErrNotArmed
	}
	if r.claimed {
		return Ticket{}, ErrAlreadySubmitted
	}
	r.claimed = true
	return Ticket{Key: r.round, Match: match.ID}, nil
}

// Release returns a failed ticket so a duplicate battle_end can resubmit the
// round under the same key. Tickets from an older round are ignored.
func (r *Reporter) Release(ticket Ticket) {
	if ticket.Key == r.round {
		r.claimed = false
	}
}

// Submit performs the claimed submission. Failures are returned, never retried.
func (r *Reporter) Submit(ctx context.Context, ticket Ticket, outcome models.MatchOutcome) (Submission, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	gameID, err := r.submitter.Submit(ctx, outcome, ticket.Key)
	if err != nil {
		return Submission{}, fmt.Errorf("submit outcome for %s: %w", ticket.Match, err)
	}

	sub := Submission{
		Key:         ticket.Key,
		Outcome:     outcome.WithGameID(gameID),
		GameID:      gameID,
		SubmittedBy: r.self,
		At:          r.clock.Now().UTC(),
	}
	log.Info().
		Str("match_id", ticket.Match.String()).
		Str("game_id", gameID).
		Str("result", string(outcome.Result())).
		Msg("outcome submitted")

	for _, m := range r.mirrors {
		if err := m.Publish(ctx, sub); err != nil {
			log.Error().Err(err).Str("match_id", ticket.Match.String()).Msg("failed to mirror outcome")
		}
	}
	return sub, nil
}
