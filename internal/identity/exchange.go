package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
)

type exchangeRequest struct {
	ExchangeRequestToken string `json:"exchangeRequestToken"`
	ExchangeRequestID    string `json:"exchangeRequestId"`
	GrantType            string `json:"grantType"`
}

// ExchangeThirdPartyToken trades a social-login provider token for directory
// credentials. Transport errors and 5xx responses are retried with
// exponential backoff between attempts; any other non-2xx is terminal. Every
// failure is an *ExchangeFailure.
func (c *Client) ExchangeThirdPartyToken(ctx context.Context, providerToken, stateID string) (credential.Bundle, error) {
	const op = "exchange"
	start := time.Now()
	ctx, span := c.startSpan(ctx, op)

	b, status, failure := c.exchange(ctx, span, providerToken, stateID)
	if failure != nil {
		c.finish(span, op, start, failure.Status, failure)
		c.metrics.ExchangeAttempts(failure.Attempts)
		c.logger.WarnContext(ctx, "token exchange failed",
			"attempts", failure.Attempts,
			"status", failure.Status,
			"error", failure.Message,
		)
		return credential.Bundle{}, failure
	}
	c.finish(span, op, start, status, nil)
	return b, nil
}

func (c *Client) exchange(ctx context.Context, span trace.Span, providerToken, stateID string) (credential.Bundle, int, *ExchangeFailure) {
	req := exchangeRequest{
		ExchangeRequestToken: providerToken,
		ExchangeRequestID:    stateID,
		GrantType:            "token_exchange",
	}

	failure := &ExchangeFailure{}
	fail := func(status int, err error) *ExchangeFailure {
		failure.Status = status
		failure.Err = err
		failure.Message = err.Error()
		return failure
	}

	delay := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, delay); err != nil {
				// Keep the provider's last answer; the wait was only interrupted.
				if failure.Err == nil {
					fail(0, err)
				}
				return credential.Bundle{}, failure.Status, failure
			}
			delay *= 2
		}

		failure.Attempts = attempt
		span.SetAttributes(attribute.Int("identity.attempts", attempt))

		status, body, err := c.post(ctx, c.directoryURL+"/v1/auth/token", req)
		switch {
		case err != nil:
			fail(0, err)
			if errors.Is(err, context.Canceled) {
				return credential.Bundle{}, failure.Status, failure
			}
			c.logger.DebugContext(ctx, "exchange attempt failed", "attempt", attempt, "error", err)
			continue
		case status >= 500:
			fail(status, fmt.Errorf("identity provider returned %d", status))
			c.logger.DebugContext(ctx, "exchange attempt failed", "attempt", attempt, "status", status)
			continue
		case !isSuccess(status):
			return credential.Bundle{}, status, fail(status, fmt.Errorf("identity provider rejected exchange with %d", status))
		}

		b, err := ParseBundle(body)
		if err != nil {
			return credential.Bundle{}, status, fail(status, err)
		}
		c.metrics.ExchangeAttempts(attempt)
		return b, status, nil
	}
	return credential.Bundle{}, failure.Status, failure
}
