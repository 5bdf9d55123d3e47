package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const appName = "teamtasks"

// xdgAppDir resolves $<env>/teamtasks, falling back to ~/<homeRel>/teamtasks
// and then to ./teamtasks when no home directory is known.
func xdgAppDir(env, homeRel string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, homeRel, appName)
	}
	return appName
}

func defaultDataDir() string {
	return xdgAppDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ConfigFilePath returns the location of the JSON config file.
func ConfigFilePath() string {
	return filepath.Join(xdgAppDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

// SecretsFilePath returns the location of the secrets file. It holds
// {"teamtasks": {"<account>": "<value>"}} and is written with mode 0600.
func SecretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// writeJSONFile writes v as indented JSON through a temp file in the same
// directory, so readers never see a partial file.
func writeJSONFile(path string, v any, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
