// Copyright (c) 2026.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type (
	// FSStore persists entries as one JSON file per key under a
	// directory. It survives process restarts and can be shared
	// by processes on the same host, but offers no write
	// arbitration across hosts; multi-instance deployments
	// should use the kv-backed store instead.
	FSStore struct {
		dir string
	}
)

var (
	_ Store = (*FSStore)(nil)
)

// NewFSStore creates the directory if needed and returns a store
// over it.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %q: %w", dir, err)
	}

	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Read implements Store.
func (s *FSStore) Read(_ context.Context, key string) (*Entry, error) {
	blob, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMiss
		}

		return nil, fmt.Errorf("cannot read cache file for %q: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(blob, &e); err != nil {
		// A torn or corrupted file is a miss, not an error;
		// the entry will be rewritten on the next compute.
		return nil, ErrMiss
	}

	return &e, nil
}

// Write implements Store. The file is written to a temporary name
// and renamed so concurrent readers never observe a torn entry.
func (s *FSStore) Write(_ context.Context, key string, e *Entry, _ time.Duration) error {
	blob, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cannot encode cache entry for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("cannot create cache temp file for %q: %w", key, err)
	}

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot write cache temp file for %q: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot close cache temp file for %q: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot publish cache file for %q: %w", key, err)
	}

	return nil
}
