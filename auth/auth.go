// Package auth issues and validates session tokens. A token names one login
// session (the "sid" claim); revoking the session invalidates its token.
package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

// IdentityKey is the fiber locals key Middleware stores the identity under.
const IdentityKey = "identity"

type Claims struct {
	jwt.StandardClaims
	Role     models.Role `json:"role"`
	SID      string      `json:"sid"`
	FullName string      `json:"full_name,omitempty"`
	Mobile   string      `json:"mobile,omitempty"`
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

// Issue starts a new session for id and returns its token. A fresh session id
// is assigned unless id.SessionID is already set.
func (i *Issuer) Issue(id models.Identity) (string, models.Identity, error) {
	if id.ID == "" || !id.Role.Valid() {
		return "", models.Identity{}, fmt.Errorf("issue token: %w", apperr.ErrInvalid)
	}
	if id.SessionID == "" {
		id.SessionID = uuid.NewString()
	}
	now := i.now()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   id.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(i.ttl).Unix(),
		},
		Role:     id.Role,
		SID:      id.SessionID,
		FullName: id.FullName,
		Mobile:   id.Mobile,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", models.Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return token, id, nil
}

func (i *Issuer) Parse(token string) (models.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	if claims.Subject == "" || claims.SID == "" || !claims.Role.Valid() {
		return models.Identity{}, fmt.Errorf("%w: incomplete claims", apperr.ErrUnauthorized)
	}
	if i.Revoked(claims.SID) {
		return models.Identity{}, fmt.Errorf("%w: session signed out", apperr.ErrUnauthorized)
	}
	return models.Identity{
		ID:        claims.Subject,
		Role:      claims.Role,
		SessionID: claims.SID,
		FullName:  claims.FullName,
		Mobile:    claims.Mobile,
	}, nil
}

// Revoke ends a session. Entries are kept for one token lifetime.
func (i *Issuer) Revoke(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	for sid, at := range i.revoked {
		if now.Sub(at) > i.ttl {
			delete(i.revoked, sid)
		}
	}
	i.revoked[sessionID] = now
}

func (i *Issuer) Revoked(sessionID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, ok := i.revoked[sessionID]
	return ok
}

// Middleware authenticates the request from the Authorization header or,
// for websocket upgrades, the token query parameter.
func (i *Issuer) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return apperr.ErrUnauthorized
		}
		id, err := i.Parse(token)
		if err != nil {
			return err
		}
		c.Locals(IdentityKey, id)
		return c.Next()
	}
}

// BearerToken strips the "Bearer " prefix; it returns "" for other schemes.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Identity returns the identity stored by Middleware.
func Identity(c *fiber.Ctx) (models.Identity, error) {
	id, ok := c.Locals(IdentityKey).(models.Identity)
	if !ok {
		return models.Identity{}, apperr.ErrUnauthorized
	}
	return id, nil
}

// RequireRole rejects identities whose role is not one of roles.
func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := Identity(c)
		if err != nil {
			return err
		}
		for _, r := range roles {
			if id.Role == r {
				return c.Next()
			}
		}
		return apperr.ErrForbidden
	}
}
