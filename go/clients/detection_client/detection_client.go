package detection_client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/handduel/go/clients"
	"github.com/mcdev12/handduel/go/internal/models"
)

type DetectionClient struct {
	*clients.BaseClient
}

func NewDetectionClient(baseURL string, tokens clients.TokenSource, timeout time.Duration) *DetectionClient {
	client := &DetectionClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetTokenSource(tokens)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return client
}

// DetectResponse is the raw service answer; Gesture may be "No detection".
type DetectResponse struct {
	Gesture string `json:"gesture"`
	BBox    []int  `json:"bbox"`
}

// Sample normalizes the response into the closed gesture enumeration.
func (r DetectResponse) Sample() models.DetectionSample {
	return models.DetectionSample{
		Gesture: models.NormalizeGesture(r.Gesture),
		Box:     models.BoxFromSlice(r.BBox),
	}
}

// Detect submits one JPEG frame.
func (c *DetectionClient) Detect(ctx context.Context, frame []byte) (models.DetectionSample, error) {
	body, err := c.PostFile(ctx, DetectEndpoint, FrameField, FrameFilename, frame)
	if err != nil {
		return models.DetectionSample{}, fmt.Errorf("failed to detect gesture: %w", err)
	}

	var response DetectResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.DetectionSample{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return response.Sample(), nil
}
