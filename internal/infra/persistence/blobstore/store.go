// Package blobstore keeps each dataset as one JSON object in a blob store,
// which lets datasets live on the filesystem or in S3.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"microsim/internal/blob/core"
	"microsim/pkg/dataset"
)

const (
	keyPrefix   = "datasets/"
	keySuffix   = ".json"
	contentType = "application/json"
)

// Store is a dataset.Store over a core.Store.
type Store struct {
	blobs core.Store
}

// New wraps blobs.
func New(blobs core.Store) *Store { return &Store{blobs: blobs} }

func (s *Store) Driver() dataset.Driver { return dataset.DriverBlob }

// Blobs is the underlying object store.
func (s *Store) Blobs() core.Store { return s.blobs }

func key(name string) string { return keyPrefix + name + keySuffix }

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, name string, data *dataset.Data) error {
	if err := validName(name); err != nil {
		return err
	}
	entries := data.Entries()
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = s.blobs.Put(ctx, key(name), bytes.NewReader(b), core.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"entries": strconv.Itoa(len(entries))},
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, name string) (*dataset.Data, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	_, rc, err := s.blobs.Get(ctx, key(name))
	if err != nil {
		var nf core.NotFoundError
		if errors.As(err, &nf) {
			return nil, dataset.NotFoundError{Name: name}
		}
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	var entries []dataset.Entry
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return dataset.FromEntries(entries), nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	infos, err := s.blobs.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, keyPrefix)
		if !strings.HasSuffix(name, keySuffix) || strings.Contains(name, "/") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, keySuffix))
	}
	return names, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	ok, err := s.blobs.Delete(ctx, key(name))
	if err != nil {
		return err
	}
	if !ok {
		return dataset.NotFoundError{Name: name}
	}
	return nil
}

var _ dataset.Store = (*Store)(nil)
