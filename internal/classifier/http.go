package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// three attempts in all
const maxRetries = 2

// HTTPClient calls a JSON classification endpoint:
//
//	POST {url}  {"text": "...", "context": {...}}
//	200         {"intent": "ORDER", "confidence": 0.92}
type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:        strings.TrimSpace(url),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Text    string              `json:"text"`
	Context ConversationContext `json:"context"`
}

type classifyResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (c *HTTPClient) Classify(ctx context.Context, text string, cc ConversationContext) (Classification, error) {
	if c.url == "" {
		return Classification{}, errors.New("classifier url is not configured")
	}
	payload, err := json.Marshal(classifyRequest{Text: text, Context: cc})
	if err != nil {
		return Classification{}, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), maxRetries), ctx)
	body, err := backoff.RetryWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("classifier error: status=%d body=%s", resp.StatusCode, string(body))
			if resp.StatusCode >= 500 {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return body, nil
	}, policy)
	if err != nil {
		return Classification{}, err
	}

	var out classifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Classification{}, fmt.Errorf("decode classifier response: %w", err)
	}
	return Classification{Intent: ParseIntent(out.Intent), Confidence: out.Confidence, Source: "external"}, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	return b
}
