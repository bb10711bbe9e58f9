package sampler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcdev12/handduel/go/internal/models"
)

type detectorFunc func(ctx context.Context, frame []byte) (models.DetectionSample, error)

func (f detectorFunc) Detect(ctx context.Context, frame []byte) (models.DetectionSample, error) {
	return f(ctx, frame)
}

func TestTrackerResolve(t *testing.T) {
	rock := models.DetectionSample{Gesture: models.GestureRock}
	paper := models.DetectionSample{Gesture: models.GesturePaper}
	unknown := models.DetectionSample{Gesture: models.GestureUnknown}
	boom := errors.New("timeout")

	tests := []struct {
		name     string
		observed []models.DetectionSample
		final    models.DetectionSample
		finalErr error
		want     models.Gesture
	}{
		{"final recognized wins", []models.DetectionSample{rock}, paper, nil, models.GesturePaper},
		{"unknown final falls back", []models.DetectionSample{rock, unknown}, unknown, nil, models.GestureRock},
		{"latest known is kept", []models.DetectionSample{rock, paper, unknown}, unknown, nil, models.GesturePaper},
		{"nothing observed", []models.DetectionSample{unknown}, unknown, nil, models.GestureUnknown},
		{"final error falls back", []models.DetectionSample{rock}, paper, boom, models.GestureRock},
		{"final error with no history", nil, models.DetectionSample{}, boom, models.GestureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr Tracker
			for _, s := range tt.observed {
				tr.Observe(s)
			}
			if got := tr.Resolve(tt.final, tt.finalErr); got != tt.want {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackerNeverUnknownAfterRecognition(t *testing.T) {
	for _, g := range models.Gestures {
		var tr Tracker
		tr.Observe(models.DetectionSample{Gesture: g})
		for i := 0; i < 5; i++ {
			tr.Observe(models.DetectionSample{Gesture: models.GestureUnknown})
		}
		if got := tr.Resolve(models.DetectionSample{}, nil); got != g {
			t.Errorf("Resolve() after %v = %v, want %v", g, got, g)
		}
	}
}

func TestTrackerReset(t *testing.T) {
	var tr Tracker
	tr.Observe(models.DetectionSample{Gesture: models.GestureScissors})
	tr.Reset()
	if got := tr.LastKnown(); got != models.GestureUnknown {
		t.Errorf("LastKnown() after Reset = %v, want Unknown", got)
	}
	if tr.Observed() != 0 {
		t.Errorf("Observed() after Reset = %d, want 0", tr.Observed())
	}
}

func TestSampleAppliesTimeout(t *testing.T) {
	slow := detectorFunc(func(ctx context.Context, _ []byte) (models.DetectionSample, error) {
		<-ctx.Done()
		return models.DetectionSample{}, ctx.Err()
	})
	s := New(StaticSource("frame"), slow, 10*time.Millisecond)

	_, err := s.Sample(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Sample() error = %v, want deadline exceeded", err)
	}
}

func TestSampleRejectsEmptyFrame(t *testing.T) {
	called := false
	d := detectorFunc(func(context.Context, []byte) (models.DetectionSample, error) {
		called = true
		return models.DetectionSample{}, nil
	})
	_, err := New(StaticSource(nil), d, 0).Sample(context.Background())
	if !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Sample() error = %v, want ErrNoFrame", err)
	}
	if called {
		t.Error("detector called without a frame")
	}
}

func TestDirSourceCyclesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"b.jpg": "B", "a.jpeg": "A", "notes.txt": "skip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatalf("NewDirSource() error = %v", err)
	}

	var got string
	for i := 0; i < 3; i++ {
		frame, err := src.Frame(context.Background())
		if err != nil {
			t.Fatalf("Frame() error = %v", err)
		}
		got += string(frame)
	}
	if got != "ABA" {
		t.Errorf("frames = %q, want %q", got, "ABA")
	}
}

func TestDirSourceEmpty(t *testing.T) {
	if _, err := NewDirSource(t.TempDir()); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("NewDirSource() error = %v, want ErrNoFrame", err)
	}
}
