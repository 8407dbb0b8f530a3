package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	GrantType    string `json:"grantType"`
}

// Refresh trades refreshToken for a new bundle. It is never retried. Any
// failure is a *RefreshFailure.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credential.Bundle, error) {
	const op = "refresh"
	start := time.Now()
	ctx, span := c.startSpan(ctx, op)

	b, status, err := c.refresh(ctx, refreshToken)
	c.finish(span, op, start, status, err)
	if err != nil {
		c.logger.WarnContext(ctx, "token refresh failed", "status", status, "error", err)
		return credential.Bundle{}, err
	}
	return b, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (credential.Bundle, int, error) {
	status, body, err := c.post(ctx, c.directoryURL+"/v1/auth/token", refreshRequest{
		RefreshToken: refreshToken,
		GrantType:    "refresh_token",
	})
	if err != nil {
		return credential.Bundle{}, status, &RefreshFailure{Status: status, Err: err}
	}
	if !isSuccess(status) {
		return credential.Bundle{}, status, &RefreshFailure{
			Status: status,
			Err:    fmt.Errorf("unexpected status %d", status),
		}
	}

	b, err := ParseBundle(body)
	if err != nil {
		return credential.Bundle{}, status, &RefreshFailure{Status: status, Err: err}
	}
	return b, status, nil
}
