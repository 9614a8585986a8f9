package platform

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

	"autorun/internal/account"
)

const DefaultTimeout = 15 * time.Second

var ErrRejected = errors.New("platform rejected the action")

// HTTPConnector talks to a platform gateway that exposes one JSON endpoint
// per action: POST {base}/comment, {base}/like and {base}/favorite.
type HTTPConnector struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewHTTPConnector(baseURL string, timeout time.Duration) *HTTPConnector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPConnector{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Timeout:    timeout,
		HTTPClient: &http.Client{},
	}
}

type actionRequest struct {
	AccountUID string `json:"account_uid"`
	WorkID     string `json:"work_id"`
	AuthorID   string `json:"author_id,omitempty"`
	Content    string `json:"content,omitempty"`
}

type actionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (c *HTTPConnector) CreateComment(ctx context.Context, acct *account.Account, workID, authorID, content string) (bool, error) {
	return c.do(ctx, "comment", actionRequest{AccountUID: acct.UID, WorkID: workID, AuthorID: authorID, Content: content})
}

func (c *HTTPConnector) Like(ctx context.Context, acct *account.Account, workID, authorID string) (bool, error) {
	return c.do(ctx, "like", actionRequest{AccountUID: acct.UID, WorkID: workID, AuthorID: authorID})
}

func (c *HTTPConnector) Favorite(ctx context.Context, acct *account.Account, workID string) (bool, error) {
	return c.do(ctx, "favorite", actionRequest{AccountUID: acct.UID, WorkID: workID})
}

func (c *HTTPConnector) do(ctx context.Context, action string, body actionRequest) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	raw, err := json.Marshal(body)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+action, bytes.NewReader(raw))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%s: status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out actionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%s: decode response: %w", action, err)
	}
	if !out.OK {
		return false, fmt.Errorf("%w: %s: %s", ErrRejected, action, out.Message)
	}
	return true, nil
}
