package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when a token does not have exactly three
	// dot-separated segments. It also matches jwt.ErrTokenMalformed.
	ErrMalformedToken = fmt.Errorf("token: must have 3 parts: %w", jwt.ErrTokenMalformed)
	// ErrInvalidEncoding is returned when a segment is not valid base64url text.
	ErrInvalidEncoding = errors.New("token: illegal base64url string")
	// ErrPayloadParse is returned when a decoded payload is not a JSON object.
	ErrPayloadParse = errors.New("token: payload is not valid JSON")
)

// Claims is the decoded payload of an identity token.
type Claims struct {
	Name        string `json:"name,omitempty"`
	FullName    string `json:"fullname,omitempty"`
	Email       string `json:"email,omitempty"`
	JobTitle    string `json:"jobtitle,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeSegment decodes one base64url token segment. Padding is optional; a
// segment whose unpadded length leaves a remainder of 1 modulo 4 can never be
// valid and fails with ErrInvalidEncoding, as does text that is not UTF-8.
func DecodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if len(seg)%4 == 1 {
		return nil, ErrInvalidEncoding
	}

	out, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if !utf8.Valid(out) {
		return nil, ErrInvalidEncoding
	}
	return out, nil
}

// Decode returns the claims carried by token. The signature is not checked.
func Decode(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	payload, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, err
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadParse, err)
	}
	return &claims, nil
}

// ExpirationDate returns the exp claim of token. ok is false when the token
// carries no expiration.
func ExpirationDate(token string) (exp time.Time, ok bool, err error) {
	claims, err := Decode(token)
	if err != nil {
		return time.Time{}, false, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// IsExpired reports whether token expires before now+offset. A token without
// an exp claim never expires.
func IsExpired(token string, offset time.Duration) (bool, error) {
	return isExpiredAt(token, offset, time.Now())
}

func isExpiredAt(token string, offset time.Duration, now time.Time) (bool, error) {
	exp, ok, err := ExpirationDate(token)
	if err != nil || !ok {
		return false, err
	}
	return exp.Before(now.Add(offset)), nil
}
