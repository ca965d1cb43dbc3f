package httpadapter

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const cronSecretHeader = "X-Cron-Secret"

// cronAuthorized accepts the shared secret either as X-Cron-Secret or as a
// bearer token. An empty configured secret rejects every caller.
func cronAuthorized(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	if header := strings.TrimSpace(r.Header.Get(cronSecretHeader)); header != "" {
		return secretsEqual(header, secret)
	}
	return isAuthorizedBearerHeader(r.Header.Get("Authorization"), secret)
}

func isAuthorizedBearerHeader(headerValue, expectedToken string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" || expectedToken == "" {
		return false
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return secretsEqual(token, expectedToken)
}

func secretsEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
