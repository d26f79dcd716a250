package domain

import "time"

// StateMaxAge bounds how long an OAuth state token is accepted.
const StateMaxAge = 10 * time.Minute

// OAuthState is the decoded payload carried through the provider redirect.
type OAuthState struct {
	Subject  Subject
	IssuedAt time.Time
	Nonce    string
}

// Age returns how old the state is at now.
func (s OAuthState) Age(now time.Time) time.Duration {
	return now.Sub(s.IssuedAt)
}
