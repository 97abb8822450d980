package telemetry

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
)

const maxTokenLifetime = 365 * 24 * time.Hour

func sign(sharedSecret string, token string) string {
	hash := sha256.Sum256([]byte(sharedSecret + "." + token))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// GenerateOTLPBearerToken signs token with sharedSecret. The result never expires.
func GenerateOTLPBearerToken(sharedSecret string, token string) (string, error) {
	if token == "" {
		return "", errors.New("token is required")
	}
	return token + "." + sign(sharedSecret, token), nil
}

// GenerateOTLPBearerTokenWithExpiration returns a signed token of the form
// "<lifetime>.<issued unix>.<signature>", the lifetime rounded to the minute.
func GenerateOTLPBearerTokenWithExpiration(sharedSecret string, expiration time.Time) (string, error) {
	exp := time.Until(expiration)
	if exp < 0 {
		return "", errors.New("expiration time is in the past")
	}
	if exp > maxTokenLifetime {
		return "", errors.New("expiration time exceeds maximum of 1 year")
	}
	rounded := exp.Round(time.Minute)
	if rounded < time.Minute {
		rounded = time.Minute
	}
	return GenerateOTLPBearerToken(sharedSecret, str2duration.String(rounded)+"."+strconv.FormatInt(time.Now().Unix(), 10))
}
