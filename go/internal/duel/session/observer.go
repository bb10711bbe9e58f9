package session

import (
	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/models"
)

// Observer receives session notifications. All calls are made from the
// session loop, so implementations must not call back into the session
// synchronously.
type Observer interface {
	OnStateChange(from, to State)
	OnStatus(message string)
	OnMatchFound(match models.Match, reporter bool)
	OnCountdown(remaining int)
	OnDetection(sample models.DetectionSample)
	OnBlackout(active bool)
	OnGestureSubmitted(gesture models.Gesture)
	OnOutcome(outcome models.MatchOutcome)
	OnSubmission(sub reporter.Submission)
	OnFailure(f Failure)
}

// NopObserver ignores everything. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnStateChange(State, State)         {}
func (NopObserver) OnStatus(string)                    {}
func (NopObserver) OnMatchFound(models.Match, bool)    {}
func (NopObserver) OnCountdown(int)                    {}
func (NopObserver) OnDetection(models.DetectionSample) {}
func (NopObserver) OnBlackout(bool)                    {}
func (NopObserver) OnGestureSubmitted(models.Gesture)  {}
func (NopObserver) OnOutcome(models.MatchOutcome)      {}
func (NopObserver) OnSubmission(reporter.Submission)   {}
func (NopObserver) OnFailure(Failure)                  {}
