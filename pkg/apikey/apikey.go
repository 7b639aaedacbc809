package apikey

import (
	"crypto/rand"
	"encoding/base64"
)

const keyBytes = 32

// Generate returns a URL-safe, unpadded base64 API key built from 32
// secure-random bytes.
func Generate() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
