package sampler

import "github.com/mcdev12/handduel/go/internal/models"

// Tracker keeps the battle-window detection history: the most recent sample
// and the last recognized gesture.
type Tracker struct {
	last      models.DetectionSample
	lastKnown models.Gesture
	observed  int
}

// Observe records a periodic sample. Unknown never overwrites the last known gesture.
func (t *Tracker) Observe(sample models.DetectionSample) {
	t.last = sample
	t.observed++
	if sample.Gesture.Known() {
		t.lastKnown = sample.Gesture
	}
}

func (t *Tracker) LastKnown() models.Gesture {
	return t.lastKnown
}

func (t *Tracker) Last() models.DetectionSample {
	return t.last
}

func (t *Tracker) Observed() int {
	return t.observed
}

// Resolve picks the gesture to submit from the final on-demand detection:
// the final gesture if recognized, else the last known one, else Unknown.
// A failed final detection falls back the same way.
func (t *Tracker) Resolve(final models.DetectionSample, err error) models.Gesture {
	if err == nil {
		t.Observe(final)
		if final.Gesture.Known() {
			return final.Gesture
		}
	}
	return t.lastKnown
}

func (t *Tracker) Reset() {
	*t = Tracker{}
}
