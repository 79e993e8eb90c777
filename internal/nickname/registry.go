// Package nickname keeps the process-wide set of nicknames held by
// connected members and enforces their uniqueness.
package nickname

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

// MaxLength is the longest nickname, in runes, that Validate accepts.
const MaxLength = 32

// ErrInvalid is returned by Validate for empty or oversized nicknames.
var ErrInvalid = errors.New("invalid nickname")

// Registry is the contract shared by the in-memory and Redis backed
// implementations. Reserve is atomic: of any number of concurrent callers
// for the same nickname exactly one observes true. Release is idempotent.
type Registry interface {
	Reserve(ctx context.Context, nickname string) (bool, error)
	Release(ctx context.Context, nickname string) error
	IsAvailable(ctx context.Context, nickname string) (bool, error)
}

// Normalize trims surrounding whitespace.
func Normalize(nickname string) string {
	return strings.TrimSpace(nickname)
}

// Validate checks a normalized nickname.
func Validate(nickname string) error {
	if nickname == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if utf8.RuneCountInString(nickname) > MaxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalid, MaxLength)
	}
	return nil
}

// Guest returns a random nickname in the form adjective-animal.
func Guest() string {
	return adjectives[randomIndex(len(adjectives))] + "-" + animals[randomIndex(len(animals))]
}

// Suggest proposes an available alternative to a taken nickname. Numeric
// suffixes are tried first (alice2 .. alice9), then a random word suffix.
// An empty string means nothing available was found.
func Suggest(ctx context.Context, reg Registry, nickname string) string {
	candidates := make([]string, 0, 12)
	for i := 2; i <= 9; i++ {
		candidates = append(candidates, fmt.Sprintf("%s%d", nickname, i))
	}
	for i := 0; i < 4; i++ {
		candidates = append(candidates, nickname+"-"+extras[randomIndex(len(extras))])
	}

	for _, c := range candidates {
		if Validate(c) != nil {
			continue
		}
		ok, err := reg.IsAvailable(ctx, c)
		if err != nil {
			return ""
		}
		if ok {
			return c
		}
	}
	return ""
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
