package analyzer

import "errors"

// ErrSocialUnavailable is returned when no social momentum source is
// configured. Callers must treat the signal as absent, never substitute
// a synthetic value.
var ErrSocialUnavailable = errors.New("analyzer: social momentum unavailable")

// SocialMomentumProvider supplies an external crowd-interest score for
// a symbol. Implementations wrap third-party sentiment APIs.
type SocialMomentumProvider interface {
	Momentum(symbol string) (float64, error)
}

// DisabledSocialProvider is the no-op provider used when
// social_api_enabled is false.
type DisabledSocialProvider struct{}

func (DisabledSocialProvider) Momentum(string) (float64, error) {
	return 0, ErrSocialUnavailable
}
