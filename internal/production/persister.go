// Package production provides production integrations for teax components:
// state persistence, snapshot publishing and Prometheus metrics.
package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/comalice/teax"
)

// Record is the on-disk form of a persisted state.
type Record[S any] struct {
	Key     string    `json:"key" yaml:"key"`
	State   S         `json:"state" yaml:"state"`
	SavedAt time.Time `json:"saved_at" yaml:"saved_at"`
}

// Store saves and loads component state by key. Load wraps os.ErrNotExist
// when nothing has been saved under key.
type Store[S any] interface {
	Save(ctx context.Context, key string, state S) error
	Load(ctx context.Context, key string) (S, error)
}

type codec struct {
	ext       string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

var (
	jsonCodec = codec{
		ext:       ".json",
		marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
		unmarshal: json.Unmarshal,
	}
	yamlCodec = codec{ext: ".yaml", marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
)

// fileStore writes one file per key into dir.
type fileStore[S any] struct {
	dir   string
	codec codec
}

func newFileStore[S any](dir string, c codec) (fileStore[S], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fileStore[S]{}, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return fileStore[S]{dir: dir, codec: c}, nil
}

func (f fileStore[S]) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.dir, key+f.codec.ext), nil
}

func (f fileStore[S]) Save(ctx context.Context, key string, state S) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn, err := f.path(key)
	if err != nil {
		return err
	}
	data, err := f.codec.marshal(Record[S]{Key: key, State: state, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	// Write then rename so a concurrent Load never sees a torn file.
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		return fmt.Errorf("rename %s: %w", fn, err)
	}
	return nil
}

func (f fileStore[S]) Load(ctx context.Context, key string) (S, error) {
	var zero S
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	fn, err := f.path(key)
	if err != nil {
		return zero, err
	}
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, fmt.Errorf("state %q: %w", key, os.ErrNotExist)
		}
		return zero, fmt.Errorf("read %s: %w", fn, err)
	}

	var rec Record[S]
	if err := f.codec.unmarshal(data, &rec); err != nil {
		return zero, fmt.Errorf("unmarshal %s: %w", fn, err)
	}
	return rec.State, nil
}

// JSONStore persists state as indented JSON files.
type JSONStore[S any] struct {
	fileStore[S]
}

// NewJSONStore creates a JSONStore, ensuring the directory exists.
func NewJSONStore[S any](dir string) (*JSONStore[S], error) {
	fs, err := newFileStore[S](dir, jsonCodec)
	if err != nil {
		return nil, err
	}
	return &JSONStore[S]{fs}, nil
}

// YAMLStore persists state as YAML files.
type YAMLStore[S any] struct {
	fileStore[S]
}

// NewYAMLStore creates a YAMLStore, ensuring the directory exists.
func NewYAMLStore[S any](dir string) (*YAMLStore[S], error) {
	fs, err := newFileStore[S](dir, yamlCodec)
	if err != nil {
		return nil, err
	}
	return &YAMLStore[S]{fs}, nil
}

// Restore returns an Initializer that starts from the state saved under key,
// or from fallback when nothing was saved yet. cmds are dispatched either way.
func Restore[S any, C comparable](store Store[S], key string, fallback S, cmds ...C) teax.Initializer[S, C] {
	return func(ctx context.Context) (teax.Initial[S, C], error) {
		state, err := store.Load(ctx, key)
		switch {
		case errors.Is(err, os.ErrNotExist):
			state = fallback
		case err != nil:
			return teax.Initial[S, C]{}, err
		}
		return teax.Start(state, cmds...), nil
	}
}
