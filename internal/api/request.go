package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"

	"github.com/rickgao/tradestream/internal/classify"
	"github.com/rickgao/tradestream/internal/retry"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 4 << 10

// APIError represents an error response from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets the classifier map the response by status.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Retryable is the default retry predicate: response errors retry per
// IsRetryable, anything else only when it is a network or server failure.
func Retryable(err *classify.Error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	switch err.Kind() {
	case classify.KindNetwork, classify.KindServer:
		return true
	}
	return false
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from a
// response body, falling back to the status text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return http.StatusText(status)
}

// doRequest performs a single HTTP request. in, when non-nil, is sent as a
// JSON body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, in any) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, classify.Validation(fmt.Sprintf("encode request: %v", err), map[string]any{"path": path})
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.creds != nil {
		signed, err := c.creds.SignRequest(method, req.URL.EscapedPath())
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, v := range signed {
			req.Header[k] = v
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, data),
			Body:       data,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// do runs a request through the retry executor and decodes the response
// into out when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	opts := c.retry
	opts.Annotations = make(map[string]any, len(c.retry.Annotations)+2)
	maps.Copy(opts.Annotations, c.retry.Annotations)
	opts.Annotations["method"] = method
	opts.Annotations["path"] = path

	body, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, method, path, query, in)
	}, opts)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return classify.Classify(fmt.Errorf("unmarshal response: %w", err), opts.Annotations)
	}
	return nil
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, result)
}
