package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// secretStore abstracts the secrets fallback for testing.
type secretStore interface {
	Get(account string) (string, error)
}

// secretsFile reads and writes the secrets JSON file.
type secretsFile struct {
	path string
}

func (f secretsFile) Get(account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	svc, ok := secrets[appName]
	if !ok {
		return "", fmt.Errorf("service %q not found", appName)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, appName)
	}
	return val, nil
}

func (f secretsFile) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f secretsFile) Set(account, value string) error {
	secrets, err := f.read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[appName] == nil {
		secrets[appName] = make(map[string]string)
	}
	secrets[appName][account] = value
	return writeJSONFile(f.path, secrets, 0o600)
}
