// Package session issues the anonymous ids that scope carts.
package session

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidID = errors.New("invalid session id")

type Service struct {
	newID func() string
}

func New() *Service {
	return &Service{newID: uuid.NewString}
}

// Issue returns a fresh session id.
func (s *Service) Issue() string {
	return s.newID()
}

// Validate accepts only canonical UUID session ids.
func (s *Service) Validate(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != strings.ToLower(id) {
		return ErrInvalidID
	}
	return nil
}

// Resolve keeps a valid presented id and issues a new one otherwise.
func (s *Service) Resolve(presented string) (id string, issued bool) {
	presented = strings.TrimSpace(presented)
	if s.Validate(presented) == nil {
		return strings.ToLower(presented), false
	}
	return s.Issue(), true
}
