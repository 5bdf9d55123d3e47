package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
)

// fileBackend keeps `teamtasks config set` values in a flat JSON object
// keyed by the dotted names from the specs table. Numbers are decoded as
// json.Number so integer keys never pass through float64.
type fileBackend struct {
	path   string
	values map[string]any
}

// newFileBackend reads path if it exists. A missing file is an empty
// config; an unreadable or malformed one is logged and ignored so the
// defaults still apply.
func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: make(map[string]any)}
	if err := b.read(); err != nil {
		slog.Warn("ignoring config file", "path", path, "error", err)
	}
	return b
}

func (b *fileBackend) read() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	values := make(map[string]any)
	if err := dec.Decode(&values); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	b.values = values
	return nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	switch v := b.values[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case int:
		return strconv.Itoa(v), true, nil
	default:
		return "", true, fmt.Errorf("%s: expected a scalar, got %T", key, v)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	var raw string
	switch v := b.values[key].(type) {
	case nil:
		return 0, false, nil
	case int:
		return v, true, nil
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return 0, true, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return n, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.values[key] = val
	return b.flush()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values[key] = val
	return b.flush()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

func (b *fileBackend) flush() error {
	if err := writeJSONFile(b.path, b.values, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
