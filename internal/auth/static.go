package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// StaticToken checks a shared admin token against its bcrypt hash.
type StaticToken struct {
	hash []byte
}

func NewStaticToken(hash string) (*StaticToken, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.New("admin token hash is not a bcrypt hash")
	}
	return &StaticToken{hash: []byte(hash)}, nil
}

func (s *StaticToken) Authorize(_ context.Context, credential string) error {
	if credential == "" {
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(credential)); err != nil {
		return ErrUnauthorized
	}
	return nil
}
