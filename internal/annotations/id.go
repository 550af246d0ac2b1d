package annotations

import "github.com/google/uuid"

// IDProvider issues identifiers for newly created annotations and collections.
type IDProvider interface {
	NewID() (string, error)
}

type urnProvider struct{}

// NewURNProvider constructs an IDProvider issuing urn:uuid identifiers.
func NewURNProvider() IDProvider {
	return &urnProvider{}
}

func (p *urnProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return value.URN(), nil
}
