package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marketdesk/internal/errors"
	"marketdesk/pkg/exception"
)

// Validator checks HS256 bearer tokens.
type Validator struct {
	secret []byte
	now    func() time.Time
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret), now: time.Now}
}

// Authenticate returns the user id carried in the "sub" or "id" claim.
// Expired, unsigned or otherwise invalid tokens yield ErrAuthRejected.
func (v *Validator) Authenticate(raw string) (string, error) {
	if raw == "" {
		return "", errors.Wrap(exception.ErrAuthRejected, "missing token")
	}
	if len(v.secret) == 0 {
		return "", errors.Wrap(exception.ErrAuthRejected, "no signing secret configured")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", errors.Wrapf(exception.ErrAuthRejected, "parse token: %v", err)
	}

	id := userID(claims)
	if id == "" {
		return "", errors.Wrap(exception.ErrAuthRejected, "token carries no user id")
	}
	return id, nil
}

// Issue signs a token for userID. A zero ttl issues a token without expiry.
func (v *Validator) Issue(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": v.now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = v.now().Add(ttl).Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

func userID(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "id"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// TokenFromRequest reads a bearer token from the Authorization header or the
// token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
