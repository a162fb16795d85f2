package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const masterKeySize = 32

// LoadMasterKey returns key material from, in order: the env variable named
// by envName, the file at path (created with a fresh random key when
// missing), or an ephemeral random key when both are empty. The second
// return value reports whether the key is ephemeral.
func LoadMasterKey(path, envName string) ([]byte, bool, error) {
	if envName != "" {
		if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
			return []byte(v), false, nil
		}
	}

	if path == "" {
		key := make([]byte, masterKeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, false, fmt.Errorf("cryptox: generate ephemeral key: %w", err)
		}
		return key, true, nil
	}

	key, err := loadOrCreateKeyFile(filepath.Clean(path))
	return key, false, err
}

func loadOrCreateKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key == "" {
			return nil, fmt.Errorf("cryptox: master key file %s is empty", path)
		}
		return []byte(key), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cryptox: read master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("cryptox: create key dir: %w", err)
	}

	raw := make([]byte, masterKeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("cryptox: generate master key: %w", err)
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		return nil, fmt.Errorf("cryptox: write master key: %w", err)
	}
	return []byte(key), nil
}
