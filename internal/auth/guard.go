package auth

import (
	"context"
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Session is the authenticated caller, handed explicitly to handlers.
type Session struct {
	UserID    uint64
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

type GuardState int

const (
	GuardLoading GuardState = iota
	GuardAuthorized
	GuardRedirect
)

func (s GuardState) String() string {
	switch s {
	case GuardAuthorized:
		return "authorized"
	case GuardRedirect:
		return "redirect"
	default:
		return "loading"
	}
}

// Revoker reports tokens that were signed out before they expired.
type Revoker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Decision is the outcome of evaluating a Guard.
type Decision struct {
	State    GuardState
	Session  Session
	Location string // sign-in path when State is GuardRedirect
	Reason   string
	Err      error // set when the revocation store failed
}

// Guard runs before any protected handler: LOADING -> {AUTHORIZED, REDIRECT}.
type Guard struct {
	Secret     string
	SignInPath string
	Revoker    Revoker
	// Roles, when set, limits access to these roles.
	Roles []string
}

func (g Guard) redirect(reason string) Decision {
	return Decision{State: GuardRedirect, Location: g.SignInPath, Reason: reason}
}

// Evaluate decides on a raw Authorization header value.
func (g Guard) Evaluate(ctx context.Context, authorization string) Decision {
	if !strings.HasPrefix(authorization, "Bearer ") {
		return g.redirect("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if raw == "" {
		return g.redirect("missing bearer token")
	}

	claims, err := ParseJWT(raw, g.Secret)
	if err != nil {
		return g.redirect("invalid token")
	}
	uid, err := claims.UserID()
	if err != nil {
		return g.redirect("invalid subject")
	}

	if g.Revoker != nil && claims.ID != "" {
		revoked, err := g.Revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			d := g.redirect("session store unavailable")
			d.Err = err
			return d
		}
		if revoked {
			return g.redirect("signed out")
		}
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	if len(g.Roles) > 0 {
		allowed := false
		for _, r := range g.Roles {
			if strings.EqualFold(r, role) {
				allowed = true
				break
			}
		}
		if !allowed {
			return g.redirect("forbidden")
		}
	}

	s := Session{UserID: uid, Role: role, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return Decision{State: GuardAuthorized, Session: s}
}
