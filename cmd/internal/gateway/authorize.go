package gateway

import (
	"net/http"

	"lotgate/cmd/internal/auth/session"
)

// Outcome is what the gate does with a request.
type Outcome int

const (
	Allow Outcome = iota
	RedirectToLogin
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect"
	default:
		return "deny"
	}
}

// Decision is the result of Authorize.
// Target is set for RedirectToLogin; Status and Reason for Deny.
type Decision struct {
	Outcome Outcome
	Target  string
	Status  int
	Reason  string
}

const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonForbidden       = "forbidden"
)

// Authorize decides a classified request for the given session (nil when
// anonymous). It has no side effects.
func Authorize(c Classification, s *session.Session) Decision {
	switch c.Visibility.Kind {
	case KindPublic, KindPublicReadOnly:
		return Decision{Outcome: Allow}
	}

	if s == nil {
		if c.API {
			return Decision{Outcome: Deny, Status: http.StatusUnauthorized, Reason: ReasonUnauthenticated}
		}
		return Decision{Outcome: RedirectToLogin, Target: c.Target()}
	}

	if c.Visibility.Kind == KindRoleRestricted && normalizeRole(s.Role) != c.Visibility.Role {
		return Decision{Outcome: Deny, Status: http.StatusForbidden, Reason: ReasonForbidden}
	}
	return Decision{Outcome: Allow}
}
