package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateRandomHex returns 2n hex characters from n random bytes.
func GenerateRandomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
