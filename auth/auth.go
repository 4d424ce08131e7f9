package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sashishuu/portalberita-sub001/hub"
)

var (
	// ErrInvalidToken is returned for a malformed token, a wrong signing
	// method, or a signature mismatch.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Config holds the verification rule shared with the HTTP auth layer.
type Config struct {
	Secret string
	Issuer string
}

// Claims are the token claims issued at login.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against the shared secret.
type Verifier struct {
	config Config
}

func NewVerifier(config Config) *Verifier {
	return &Verifier{config: config}
}

// Verify checks signature, expiry and issuer, and returns the claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{}
	if v.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(v.config.Secret), nil
	}, parserOpts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for a user. The realtime server only verifies;
// this exists for the login flow and for tests.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.config.Secret))
}

// Associator binds verified identities to live connections.
type Associator struct {
	verifier *Verifier
	hub      *hub.Hub
}

func NewAssociator(verifier *Verifier, h *hub.Hub) *Associator {
	return &Associator{verifier: verifier, hub: h}
}

// Authenticate verifies the token and binds the identity to the
// connection, then joins the connection to its personal room so
// notifications reach it live. Verification runs before any registry
// mutation; the bind re-checks that the connection still exists, so a
// disconnect during verification leaves no state behind.
func (a *Associator) Authenticate(connID, token string) (string, error) {
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}

	if err := a.hub.BindIdentity(connID, claims.UserID); err != nil {
		return "", err
	}

	if err := a.hub.Join(connID, hub.UserRoom(claims.UserID)); err != nil {
		// The connection may have dropped between bind and join; its
		// session is already cleaned up by Unregister.
		slog.Warn("personal room join failed", "connId", connID, "userId", claims.UserID, "error", err)
	}

	slog.Info("connection authenticated", "connId", connID, "userId", claims.UserID)
	return claims.UserID, nil
}
