// Package credential holds the credential bundle and the stores that persist it.
package credential

import (
	"encoding/json"
	"errors"
)

// ErrIncompleteBundle is returned when a bundle lacks any of its three fields.
var ErrIncompleteBundle = errors.New("credential bundle is incomplete")

// UserInfo is a denormalized snapshot of the authenticated member. It is a
// display and authorization cache, not a source of truth.
type UserInfo struct {
	UID              string   `json:"uid"`
	Name             string   `json:"name,omitempty"`
	Email            string   `json:"email,omitempty"`
	Roles            []string `json:"roles,omitempty"`
	ProfileImageURL  string   `json:"profileImageUrl,omitempty"`
	LeadingTeams     []string `json:"leadingTeams,omitempty"`
	IsFirstTimeLogin bool     `json:"isFirstTimeLogin,omitempty"`
	AccessLevel      string   `json:"accessLevel,omitempty"`

	// Extra keeps provider fields this struct does not model so they survive
	// a read/write cycle.
	Extra map[string]json.RawMessage `json:"-"`
}

var userInfoKnownKeys = []string{
	"uid", "name", "email", "roles", "profileImageUrl",
	"leadingTeams", "isFirstTimeLogin", "accessLevel",
}

type userInfoFields UserInfo

// UnmarshalJSON decodes the modeled fields and stashes the rest in Extra.
func (u *UserInfo) UnmarshalJSON(data []byte) error {
	var fields userInfoFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range userInfoKnownKeys {
		delete(all, k)
	}

	*u = UserInfo(fields)
	if len(all) > 0 {
		u.Extra = all
	}
	return nil
}

// MarshalJSON encodes the modeled fields merged with Extra.
func (u UserInfo) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userInfoFields(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(u.Extra)+len(userInfoKnownKeys))
	for k, v := range u.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Bundle is the access token, refresh token and user info triple. It is
// written and cleared as a unit.
type Bundle struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	UserInfo     *UserInfo `json:"userInfo"`
}

// Complete reports whether all three fields are present.
func (b Bundle) Complete() bool {
	return b.AccessToken != "" && b.RefreshToken != "" && b.UserInfo != nil
}

// Validate returns ErrIncompleteBundle unless the bundle is complete.
func (b Bundle) Validate() error {
	if !b.Complete() {
		return ErrIncompleteBundle
	}
	return nil
}

// LoggedIn reports whether a refresh token is present. Without one the
// member is logged out and no silent refresh may be attempted.
func (b Bundle) LoggedIn() bool {
	return b.RefreshToken != ""
}

// Empty reports whether no field is present.
func (b Bundle) Empty() bool {
	return b.AccessToken == "" && b.RefreshToken == "" && b.UserInfo == nil
}
