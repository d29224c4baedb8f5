package queue

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the callback signature.
const SignatureHeader = "X-Dispatch-Signature"

var ErrBadSignature = errors.New("invalid dispatch signature")

type dispatchClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Signer produces HS256 tokens binding a callback URL to its body.
type Signer struct {
	key []byte
	TTL time.Duration
	Now func() time.Time
}

func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key), TTL: 5 * time.Minute, Now: time.Now}
}

func (s *Signer) Sign(url string, body []byte) (string, error) {
	now := s.Now()
	claims := &dispatchClaims{
		Body: bodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   url,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verifier accepts tokens signed with the current or the next key, so the
// signing key can be rotated without dropping callbacks in flight.
type Verifier struct {
	keys [][]byte
}

func NewVerifier(current, next string) *Verifier {
	v := &Verifier{}
	for _, k := range []string{current, next} {
		if k != "" {
			v.keys = append(v.keys, []byte(k))
		}
	}
	return v
}

func (v *Verifier) Verify(token, url string, body []byte) error {
	if token == "" {
		return fmt.Errorf("%w: missing %s", ErrBadSignature, SignatureHeader)
	}
	var lastErr error = ErrBadSignature
	for _, key := range v.keys {
		claims := &dispatchClaims{}
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithSubject(url))
		if err != nil {
			lastErr = err
			continue
		}
		if subtle.ConstantTimeCompare([]byte(claims.Body), []byte(bodyHash(body))) != 1 {
			return fmt.Errorf("%w: body mismatch", ErrBadSignature)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBadSignature, lastErr)
}
