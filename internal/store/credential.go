package store

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// secretLength matches the original bot's generated password length.
const secretLength = 12

// Credential is a parsed "{user_id}-{secret}" path token.
type Credential struct {
	UserID int64
	Secret string
}

// ParseCredential splits raw into a Credential. raw must contain exactly one
// "-": everything before it is a signed integer user_id, everything after
// is the opaque secret. This mirrors the original bot's parse_user_token,
// which tuple-unpacks a single split('-') and rejects anything else.
func ParseCredential(raw string) (Credential, error) {
	negative := strings.HasPrefix(raw, "-")
	rest := raw
	if negative {
		rest = raw[1:]
	}

	parts := strings.Split(rest, "-")
	if len(parts) != 2 {
		return Credential{}, fmt.Errorf("store: invalid credential format")
	}

	idPart := parts[0]
	if negative {
		idPart = "-" + idPart
	}
	userID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Credential{}, fmt.Errorf("store: invalid credential format")
	}
	if parts[1] == "" {
		return Credential{}, fmt.Errorf("store: invalid credential format")
	}
	return Credential{UserID: userID, Secret: parts[1]}, nil
}

// String renders the credential back into "{user_id}-{secret}" form.
func (c Credential) String() string {
	return fmt.Sprintf("%d-%s", c.UserID, c.Secret)
}

// generateSecret returns a random 12-character alphanumeric string, the Go
// equivalent of the original bot's generate_random_password — reimplemented
// over crypto/rand since the secret doubles as an authentication token
// rather than a display password.
func generateSecret() (string, error) {
	b := make([]byte, secretLength)
	max := byte(len(secretAlphabet))
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, v := range buf {
		b[i] = secretAlphabet[v%max]
	}
	return string(b), nil
}
