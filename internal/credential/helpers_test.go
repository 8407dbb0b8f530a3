package credential_test

import (
	"testing"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token/tokentest"
)

const testPrefix = "directory"

func testOptions() credential.CookieOptions {
	return credential.CookieOptions{Prefix: testPrefix, Secure: true}
}

func freshBundle(t *testing.T) credential.Bundle {
	t.Helper()
	return credential.Bundle{
		AccessToken:  tokentest.Valid(t, "uid-1", 15*time.Minute),
		RefreshToken: tokentest.Valid(t, "uid-1", 24*time.Hour),
		UserInfo: &credential.UserInfo{
			UID:          "uid-1",
			Name:         "Ada Lovelace",
			Email:        "ada@example.com",
			Roles:        []string{"MEMBER"},
			LeadingTeams: []string{"team-1"},
		},
	}
}
