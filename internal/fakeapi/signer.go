package fakeapi

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/William-g7/Airnest-sub001/token"
)

// SigningMethod selects the JWT algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// SignerConfig configures token minting.
type SignerConfig struct {
	Method     SigningMethod
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	KeyID      string
}

// Signer mints and verifies access and refresh tokens.
type Signer struct {
	cfg     SignerConfig
	signKey any
	verify  any
}

type claims struct {
	TokenType string `json:"token_type"`
	token.Claims
}

// NewSigner validates cfg. Ed25519 keys may be raw or PEM.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	s := &Signer{cfg: cfg}
	switch cfg.Method {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		s.signKey = cfg.PrivateKey
		s.verify = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		s.signKey = priv
		if len(cfg.PublicKey) == 0 {
			s.verify = priv.Public()
		} else {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			s.verify = pub
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return s, nil
}

func (s *Signer) method() jwt.SigningMethod {
	if s.cfg.Method == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

// mint signs a token of kind for userID expiring at exp. It returns the
// token and its jti.
func (s *Signer) mint(kind, userID string, now, exp time.Time) (string, string, error) {
	jti := uuid.NewString()
	c := claims{
		TokenType: kind,
		Claims: token.Claims{
			UserID: userID,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID,
				Issuer:    s.cfg.Issuer,
				ID:        jti,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		},
	}
	t := jwt.NewWithClaims(s.method(), c)
	if s.cfg.KeyID != "" {
		t.Header["kid"] = s.cfg.KeyID
	}
	signed, err := t.SignedString(s.signKey)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// parse verifies signature, issuer and expiry at now.
func (s *Signer) parse(raw string, now time.Time) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method().Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if s.cfg.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != s.cfg.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return s.verify, nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return c, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
