package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, or
	// issued for another issuer or audience.
	ErrInvalidToken = errors.New("invalid token")
)

// SessionClaims are the claims of a session token. The token only names the
// session; its lifetime is enforced against the stored session, not exp.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	TenantID  string `json:"tid,omitempty"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
}

// SessionToken is what IssueSession hands back to the caller.
type SessionToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and parses session JWTs using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on every token and checked on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// IssueSession signs a token for the session valid until expiresAt.
func (p *TokenProvider) IssueSession(sessionID, userID, tenantID, role, kind string, expiresAt time.Time) (SessionToken, error) {
	jti, err := generateJTI()
	if err != nil {
		return SessionToken{}, err
	}
	now := p.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		TenantID:  tenantID,
		Role:      role,
		Kind:      kind,
	}
	token, err := p.sign(claims)
	if err != nil {
		return SessionToken{}, err
	}
	return SessionToken{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ParseSession verifies the signature, issuer and audience of a session token
// and returns its claims. Expiry is deliberately not checked here: the caller
// compares the stored session's age so an expired session can be told apart
// from a forged token.
func (p *TokenProvider) ParseSession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer || !slices.Contains(claims.Audience, p.audience) {
		return nil, ErrInvalidToken
	}
	if claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
