package api

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultSecretFileName = "audioserve.secret"

// LoadSecret resolves the shared secret clients authenticate with: an
// explicit value, a file to read one from, or (failing both) a freshly
// generated secret persisted to <dataDir>/audioserve.secret at mode 0600 so
// the next run picks the same one back up.
func LoadSecret(sharedSecret, secretFile, dataDir string) ([]byte, error) {
	if sharedSecret != "" {
		return []byte(sharedSecret), nil
	}
	if secretFile != "" {
		b, err := os.ReadFile(secretFile)
		if err != nil {
			return nil, fmt.Errorf("api: read secret file %s: %w", secretFile, err)
		}
		return []byte(strings.TrimSpace(string(b))), nil
	}

	path := filepath.Join(dataDir, defaultSecretFileName)
	if b, err := os.ReadFile(path); err == nil {
		return []byte(strings.TrimSpace(string(b))), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("api: generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("api: mkdir %s: %w", dataDir, err)
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return nil, fmt.Errorf("api: persist generated secret: %w", err)
	}
	return []byte(secret), nil
}
