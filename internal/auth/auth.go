// Package auth issues and verifies the capability tokens clients present to
// every API and streaming endpoint. Tokens are a bespoke three-part
// HMAC format, not JWT: there is exactly one shared secret and no algorithm
// negotiation to get wrong.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformedToken = errors.New("auth: malformed token")
	ErrBadSignature   = errors.New("auth: bad signature")
	ErrTokenExpired   = errors.New("auth: token expired")
)

// Claims is the decoded form of a verified token.
type Claims struct {
	Expires time.Time
}

// enc is base64 URL, no padding: tokens travel in query strings and
// Authorization headers, both of which are unhappy with "=".
var enc = base64.RawURLEncoding

// nonceLen is the width of the random component of a token, in bytes.
const nonceLen = 16

// IssueToken builds a token as
// base64(random_16) | base64(hmac_sha256(secret, random_16||expiry_be)) | base64(expiry_be).
// ttl == 0 means the token never expires (an all-zero expiry field); a
// negative ttl issues an already-expired token. The random nonce means two
// calls with identical secret and ttl still produce distinct tokens.
func IssueToken(secret []byte, ttl time.Duration) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: generate nonce: %w", err)
	}

	var expUnix uint64
	if ttl != 0 {
		expUnix = uint64(time.Now().Add(ttl).Unix())
	}
	var expBytes [8]byte
	binary.BigEndian.PutUint64(expBytes[:], expUnix)

	sig := sign(secret, nonce, expBytes[:])

	return strings.Join([]string{
		enc.EncodeToString(nonce),
		enc.EncodeToString(sig),
		enc.EncodeToString(expBytes[:]),
	}, "|"), nil
}

// Verify checks a token's signature and expiry, returning its Claims.
func Verify(secret []byte, token string) (Claims, error) {
	parts := strings.SplitN(token, "|", 3)
	if len(parts) != 3 {
		return Claims{}, ErrMalformedToken
	}
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLen {
		return Claims{}, ErrMalformedToken
	}
	wantSig, err := enc.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	expBytes, err := enc.DecodeString(parts[2])
	if err != nil || len(expBytes) != 8 {
		return Claims{}, ErrMalformedToken
	}

	gotSig := sign(secret, nonce, expBytes)
	if !hmac.Equal(gotSig, wantSig) {
		return Claims{}, ErrBadSignature
	}

	expUnix := binary.BigEndian.Uint64(expBytes)
	var claims Claims
	if expUnix != 0 {
		claims.Expires = time.Unix(int64(expUnix), 0)
		if time.Now().After(claims.Expires) {
			return Claims{}, ErrTokenExpired
		}
	}
	return claims, nil
}

func sign(secret []byte, nonce, expBytes []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(nonce)
	mac.Write(expBytes)
	return mac.Sum(nil)
}

// ConstantTimeEqual compares two shared-secret candidates (e.g. a submitted
// password against the configured one) without leaking timing information.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
