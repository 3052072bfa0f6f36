package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ─── Identity ───────────────────────────────────────────────────────────────
// Authentication happens upstream. The engine only reads the resolved user
// id and team roles, either from an HS256 token issued by the identity
// provider or, with no secret configured, from trusted proxy headers.

type contextKey string

const identityKey contextKey = "identity"

// Identity is the caller as resolved by the identity layer.
type Identity struct {
	UserID string
	Teams  map[string]string // team id → role
}

// TeamIDs returns the caller's teams in stable order.
func (id Identity) TeamIDs() []string {
	out := make([]string, 0, len(id.Teams))
	for t := range id.Teams {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Claims are the token claims the engine reads. sub is the user id.
type Claims struct {
	Teams map[string]string `json:"teams,omitempty"`
	jwt.RegisteredClaims
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// identity resolves the caller and rejects anonymous requests.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			id  Identity
			err error
		)
		if s.jwtSecret != nil {
			id, err = s.identityFromToken(r)
		} else {
			id, err = identityFromHeaders(r)
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func (s *Server) identityFromToken(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return Identity{}, errors.New("missing bearer token")
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid or expired token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return Identity{UserID: claims.Subject, Teams: claims.Teams}, nil
}

// identityFromHeaders reads X-User-ID and X-Team-Roles ("team=role,...").
func identityFromHeaders(r *http.Request) (Identity, error) {
	user := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if user == "" {
		return Identity{}, errors.New("missing X-User-ID header")
	}
	id := Identity{UserID: user, Teams: map[string]string{}}
	for _, pair := range strings.Split(r.Header.Get("X-Team-Roles"), ",") {
		team, role, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && team != "" {
			id.Teams[team] = role
		}
	}
	return id, nil
}
