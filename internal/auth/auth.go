package auth

import (
	"context"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

type Authorizer interface {
	Authorize(ctx context.Context, credential string) error
}

// Any accepts a credential when one of its authorizers does.
type Any []Authorizer

func (a Any) Authorize(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return ErrUnauthorized
	}
	for _, authorizer := range a {
		if authorizer == nil {
			continue
		}
		if err := authorizer.Authorize(ctx, credential); err == nil {
			return nil
		} else if !errors.Is(err, ErrUnauthorized) {
			return err
		}
	}
	return ErrUnauthorized
}

// DenyAll rejects every credential. It stands in when no admin credential is
// configured.
type DenyAll struct{}

func (DenyAll) Authorize(context.Context, string) error {
	return ErrUnauthorized
}

// NewAdmin combines the configured admin credentials. The JWT verifier is
// returned as well so callers can mint tokens; it is nil without a secret.
// With neither credential configured every request is denied.
func NewAdmin(tokenHash, jwtSecret, jwtIssuer string) (Authorizer, *JWT, error) {
	var chain Any
	if tokenHash != "" {
		static, err := NewStaticToken(tokenHash)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, static)
	}
	var verifier *JWT
	if jwtSecret != "" {
		var err error
		verifier, err = NewJWT(jwtSecret, jwtIssuer)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, verifier)
	}
	if len(chain) == 0 {
		return DenyAll{}, nil, nil
	}
	return chain, verifier, nil
}
