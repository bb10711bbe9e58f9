package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/models"
)

// ErrNoFrame is returned when the frame source has nothing to capture.
var ErrNoFrame = errors.New("no frame available")

// FrameSource captures the current camera frame as an encoded image.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// Detector runs gesture recognition on one frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) (models.DetectionSample, error)
}

// Sampler performs one capture → detect step. It holds no per-battle state;
// the fallback policy lives in Tracker.
type Sampler struct {
	frames   FrameSource
	detector Detector
	timeout  time.Duration
}

func New(frames FrameSource, detector Detector, timeout time.Duration) *Sampler {
	return &Sampler{
		frames:   frames,
		detector: detector,
		timeout:  timeout,
	}
}

// Sample captures a frame and classifies it. The returned gesture is always
// normalized into the closed enumeration.
func (s *Sampler) Sample(ctx context.Context) (models.DetectionSample, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	frame, err := s.frames.Frame(ctx)
	if err != nil {
		return models.DetectionSample{}, fmt.Errorf("capture frame: %w", err)
	}
	if len(frame) == 0 {
		return models.DetectionSample{}, ErrNoFrame
	}

	sample, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return models.DetectionSample{}, fmt.Errorf("detect gesture: %w", err)
	}
	if !sample.Gesture.Known() {
		sample.Gesture = models.GestureUnknown
	}

	log.Debug().
		Str("gesture", sample.Gesture.String()).
		Bool("has_box", sample.Box != nil).
		Msg("Gesture sample")
	return sample, nil
}
