package identity

import (
	"encoding/json"
	"fmt"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
)

// ParseBundle decodes a refresh or exchange response. It returns either a
// complete bundle or an error; partial responses wrap
// credential.ErrIncompleteBundle.
func ParseBundle(body []byte) (credential.Bundle, error) {
	var b credential.Bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return credential.Bundle{}, fmt.Errorf("decoding credential bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return credential.Bundle{}, fmt.Errorf("decoding credential bundle: %w", err)
	}
	return b, nil
}
