package token

import (
	"context"
	"fmt"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// AlphabetMixed gives ~5.95 bits per symbol.
	AlphabetMixed = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// AlphabetUpper is used for short human-readable references.
	AlphabetUpper = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

	defaultMaxAttempts = 5
)

// ExistsFunc reports whether an identifier is already taken.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// Issuer mints random identifiers and regenerates on collision.
type Issuer struct {
	alphabet    string
	length      int
	exists      ExistsFunc
	maxAttempts int
	generate    func(alphabet string, size int) (string, error)
}

// NewIssuer returns an issuer drawing length symbols from alphabet.
// exists may be nil when the caller relies on the store's unique constraint alone.
func NewIssuer(alphabet string, length int, exists ExistsFunc) *Issuer {
	return &Issuer{
		alphabet:    alphabet,
		length:      length,
		exists:      exists,
		maxAttempts: defaultMaxAttempts,
		generate:    gonanoid.Generate,
	}
}

// NewApprovalTokenIssuer mints the secret tokens embedded in approve/decline links.
func NewApprovalTokenIssuer(store domain.BookingStore) *Issuer {
	return NewIssuer(AlphabetMixed, models.TokenLength, store.TokenExists)
}

// NewReferenceIssuer mints the public references returned to requesters.
func NewReferenceIssuer(store domain.BookingStore) *Issuer {
	return NewIssuer(AlphabetUpper, models.ReferenceLength, store.ReferenceExists)
}

func (i *Issuer) Issue(ctx context.Context) (string, error) {
	for attempt := 0; attempt < i.maxAttempts; attempt++ {
		id, err := i.generate(i.alphabet, i.length)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		if i.exists == nil {
			return id, nil
		}

		taken, err := i.exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check token uniqueness: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free identifier after %d attempts", domain.ErrDuplicateToken, i.maxAttempts)
}
