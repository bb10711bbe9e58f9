package results_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcdev12/handduel/go/clients"
	"github.com/mcdev12/handduel/go/internal/models"
)

type ResultsClient struct {
	*clients.BaseClient
}

func NewResultsClient(baseURL string, tokens clients.TokenSource, timeout time.Duration) *ResultsClient {
	client := &ResultsClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetTokenSource(tokens)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return client
}

// SaveResultRequest is the persistence interface's request body.
type SaveResultRequest struct {
	Player1ID      models.ParticipantID `json:"player1_id"`
	Player2ID      models.ParticipantID `json:"player2_id"`
	Player1Gesture string               `json:"player1_gesture"`
	Player2Gesture string               `json:"player2_gesture"`
	Result         models.Result        `json:"result"`
}

type SaveResultResponse struct {
	Msg    string          `json:"msg"`
	GameID json.RawMessage `json:"game_id"`
}

// NewSaveResultRequest flattens an outcome. Gestures are sent lower-case.
func NewSaveResultRequest(o models.MatchOutcome) SaveResultRequest {
	return SaveResultRequest{
		Player1ID:      o.Player1(),
		Player2ID:      o.Player2(),
		Player1Gesture: strings.ToLower(o.GestureOf(o.Player1()).WireName()),
		Player2Gesture: strings.ToLower(o.GestureOf(o.Player2()).WireName()),
		Result:         o.Result(),
	}
}

// Submit persists the outcome and returns the stored record id.
func (c *ResultsClient) Submit(ctx context.Context, outcome models.MatchOutcome, idempotencyKey string) (string, error) {
	extra := http.Header{}
	if idempotencyKey != "" {
		extra.Set(IdempotencyKeyHeader, idempotencyKey)
	}

	body, err := c.PostJSON(ctx, ResultEndpoint, NewSaveResultRequest(outcome), extra)
	if err != nil {
		return "", fmt.Errorf("failed to save result: %w", err)
	}

	var response SaveResultResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return strings.Trim(string(response.GameID), `"`), nil
}
