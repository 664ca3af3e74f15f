package faceverify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPOracle calls a self-hosted face recognition microservice. With Skip
// enabled every pair verifies, which keeps local development unblocked when
// the service is not running.
type HTTPOracle struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewHTTPOracle creates a client with a generous timeout; face processing
// can take time.
func NewHTTPOracle(baseURL string, skip bool) *HTTPOracle {
	return &HTTPOracle{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Verify posts both images to the service's /verify endpoint.
func (c *HTTPOracle) Verify(ctx context.Context, reference, live Image) (Outcome, error) {
	if c.Skip {
		return Outcome{Match: true, Quality: QualityGood, Reason: "OK (Mocked Verification)"}, nil
	}

	body, _ := json.Marshal(map[string]string{
		"reference_image": base64.StdEncoding.EncodeToString(reference.Data),
		"reference_mime":  reference.MIME,
		"live_image":      base64.StdEncoding.EncodeToString(live.Data),
		"live_mime":       live.MIME,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Outcome{}, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// Health checks if the face service is available.
func (c *HTTPOracle) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
