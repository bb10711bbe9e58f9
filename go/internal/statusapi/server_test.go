package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/handduel/go/internal/duel/session"
	"github.com/mcdev12/handduel/go/internal/models"
)

type stubProvider struct {
	snap session.Snapshot
	err  error
}

func (p stubProvider) Snapshot(context.Context) (session.Snapshot, error) {
	return p.snap, p.err
}

func newTestServer(t *testing.T, provider StateProvider) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(":0", provider).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, stubProvider{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("GET /health = %d %q, want 200 OK", resp.StatusCode, body)
	}
}

func TestStateServesSnapshot(t *testing.T) {
	rock := models.GestureRock
	srv := newTestServer(t, stubProvider{snap: session.Snapshot{
		State:     session.StateBattling,
		Self:      3,
		MatchID:   "3_7",
		Players:   []models.ParticipantID{3, 7},
		Reporter:  true,
		Remaining: 4,
		LastKnown: models.GesturePaper,
		Submitted: &rock,
		Connected: true,
	}})

	resp, err := http.Get(srv.URL + "/api/duel/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"state":              "battling",
		"self":               float64(3),
		"match_id":           "3_7",
		"players":            []any{float64(3), float64(7)},
		"reporter":           true,
		"remaining":          float64(4),
		"last_known_gesture": "Paper",
		"submitted_gesture":  "Rock",
		"blackout":           false,
		"connected":          true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state body mismatch (-want +got):\n%s", diff)
	}
}

func TestStateErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "stopped session", err: session.ErrStopped, want: http.StatusServiceUnavailable},
		{name: "timeout", err: context.DeadlineExceeded, want: http.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, stubProvider{err: tt.err})
			resp, err := http.Get(srv.URL + "/api/duel/state")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestStateRejectsWrites(t *testing.T) {
	srv := newTestServer(t, stubProvider{})
	resp, err := http.Post(srv.URL+"/api/duel/state", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, stubProvider{})
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/duel/state", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestInfo(t *testing.T) {
	srv := newTestServer(t, stubProvider{snap: session.Snapshot{Self: 9}})
	resp, err := http.Get(srv.URL + "/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var info InfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Service != "handduel" || info.UserID != "9" {
		t.Errorf("info = %+v", info)
	}
}
