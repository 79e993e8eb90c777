package hub

import (
	"context"
	"errors"
)

// ErrUnknownToken is returned for a session token no account matches.
var ErrUnknownToken = errors.New("unknown session token")

// Accounts resolves a session token to a stable display name. A registered
// member joins under that name whatever nickname the join carries.
type Accounts interface {
	DisplayName(ctx context.Context, token string) (string, error)
}

// GuestAccounts knows no accounts. Every token resolves to a guest
// session with no display name.
type GuestAccounts struct{}

func (GuestAccounts) DisplayName(context.Context, string) (string, error) {
	return "", nil
}

// StaticAccounts maps tokens to display names.
type StaticAccounts map[string]string

func (s StaticAccounts) DisplayName(_ context.Context, token string) (string, error) {
	name, ok := s[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return name, nil
}
