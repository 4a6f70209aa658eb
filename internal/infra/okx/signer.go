package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const verifyPath = "/users/self/verify"

// Signer handles OKX v5 websocket login signatures
type Signer struct {
	apiKey     string
	secretKey  string
	passphrase string
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, secretKey, passphrase string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
	}
}

// LoginRequest builds the login op for now.
// OKX login uses a unix timestamp in seconds and signs
// timestamp + "GET" + "/users/self/verify".
func (s *Signer) LoginRequest(now time.Time) request {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	return request{
		ID: requestID(),
		Op: "login",
		Args: []loginArg{{
			APIKey:     s.apiKey,
			Passphrase: s.passphrase,
			Timestamp:  timestamp,
			Sign:       computeHmacSha256(timestamp+"GET"+verifyPath, s.secretKey),
		}},
	}
}

// requestID returns a 32 character alphanumeric id, the longest OKX accepts.
func requestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
