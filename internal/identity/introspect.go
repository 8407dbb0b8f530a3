package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Validity is the introspection verdict for an access token.
type Validity int

const (
	Invalid Validity = iota
	Valid
)

func (v Validity) String() string {
	if v == Valid {
		return "valid"
	}
	return "invalid"
}

type introspectRequest struct {
	Token string `json:"token"`
}

// Introspect asks the auth API whether accessToken is still valid. Transport
// errors and non-2xx responses count as Invalid.
func (c *Client) Introspect(ctx context.Context, accessToken string) Validity {
	const op = "introspect"
	start := time.Now()
	ctx, span := c.startSpan(ctx, op)

	status, body, err := c.post(ctx, c.authURL+"/auth/introspect", introspectRequest{Token: accessToken})
	switch {
	case err != nil:
		err = &IntrospectionFailure{Err: err}
	case !isSuccess(status):
		err = &IntrospectionFailure{Status: status}
	}
	c.finish(span, op, start, status, err)

	if err != nil {
		c.logger.WarnContext(ctx, "introspection failed, treating token as invalid",
			"status", status,
			"error", err,
		)
		return Invalid
	}
	if !truthy(body) {
		return Invalid
	}
	return Valid
}

// truthy interprets an introspection body. JSON true, a non-empty object and
// a non-empty string are truthy; objects carrying "active" or "valid" are
// judged by that field.
func truthy(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return false
	}
	return truthyValue(v)
}

func truthyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return true
	case map[string]any:
		for _, key := range []string{"active", "valid"} {
			if field, ok := t[key]; ok {
				return truthyValue(field)
			}
		}
		return len(t) > 0
	default:
		return false
	}
}
