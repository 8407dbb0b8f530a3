package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyState is returned when the provider answers without a state uid.
var ErrEmptyState = errors.New("identity provider returned an empty state uid")

type stateRequest struct {
	State string `json:"state"`
}

// CreateAuthState registers the login state and returns the opaque state uid
// used to correlate the third-party login round trip.
func (c *Client) CreateAuthState(ctx context.Context, state string) (string, error) {
	const op = "create_state"
	start := time.Now()
	ctx, span := c.startSpan(ctx, op)

	uid, status, err := c.createAuthState(ctx, state)
	c.finish(span, op, start, status, err)
	if err != nil {
		return "", fmt.Errorf("creating auth state: %w", err)
	}
	return uid, nil
}

func (c *Client) createAuthState(ctx context.Context, state string) (string, int, error) {
	status, body, err := c.post(ctx, c.directoryURL+"/v1/auth", stateRequest{State: state})
	if err != nil {
		return "", status, err
	}
	if !isSuccess(status) {
		return "", status, fmt.Errorf("unexpected status %d", status)
	}

	uid := strings.TrimSpace(string(body))
	// Some deployments answer with a JSON string rather than plain text.
	if strings.HasPrefix(uid, `"`) {
		var s string
		if err := json.Unmarshal([]byte(uid), &s); err == nil {
			uid = strings.TrimSpace(s)
		}
	}
	if uid == "" {
		return "", status, ErrEmptyState
	}
	return uid, status, nil
}
