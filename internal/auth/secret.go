package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const secretFileName = "jwt_secret"

// LoadOrCreateSecret reads the signing secret from configDir/jwt_secret, or
// generates and persists a new 256-bit hex-encoded secret if the file is
// missing or empty.
func LoadOrCreateSecret(configDir string) (string, error) {
	path := filepath.Join(configDir, secretFileName)

	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		return string(data), nil
	}

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}

	if err := writeSecret(configDir, path, secret); err != nil {
		return "", err
	}

	return secret, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func writeSecret(configDir, path, secret string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	return nil
}

// HashToken returns the sha256 hex digest of a static API token, the form
// stored in configuration.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MatchesHash compares a presented token against a stored digest in
// constant time.
func MatchesHash(token, storedHash string) bool {
	presented := HashToken(token)
	return hmac.Equal([]byte(presented), []byte(storedHash))
}
