// Package redis stores each dataset as a Redis hash with one field per
// (variable, period) array, plus a set indexing dataset names.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"microsim/pkg/dataset"
)

const (
	defaultPrefix = "microsim"
	fieldSep      = "\x1f"
)

// Store is a Redis-backed dataset.Store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New connects to addr and pings it.
func New(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewWithClient(client, defaultPrefix), nil
}

// NewWithClient wraps an existing client. Keys are namespaced under prefix.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Driver() dataset.Driver { return dataset.DriverRedis }

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) indexKey() string { return s.prefix + ":datasets" }
func (s *Store) datasetKey(name string) string { return s.prefix + ":dataset:" + name }

func encodeField(e dataset.Entry) string {
	kind := "v"
	if e.IsLabels() {
		kind = "l"
	}
	return strings.Join([]string{kind, e.Variable, e.Period}, fieldSep)
}

func decodeField(field string) (variable, period string, labels bool, err error) {
	parts := strings.Split(field, fieldSep)
	if len(parts) != 3 || (parts[0] != "v" && parts[0] != "l") {
		return "", "", false, fmt.Errorf("malformed dataset field %q", field)
	}
	return parts[1], parts[2], parts[0] == "l", nil
}

func (s *Store) Save(ctx context.Context, name string, data *dataset.Data) error {
	if name == "" {
		return fmt.Errorf("dataset name required")
	}
	fields := make(map[string]any)
	for _, e := range data.Entries() {
		payload, err := e.EncodePayload()
		if err != nil {
			return err
		}
		fields[encodeField(e)] = payload
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.datasetKey(name)
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		pipe.SAdd(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, name string) (*dataset.Data, error) {
	ok, err := s.client.SIsMember(ctx, s.indexKey(), name).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dataset.NotFoundError{Name: name}
	}
	raw, err := s.client.HGetAll(ctx, s.datasetKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	entries := make([]dataset.Entry, 0, len(raw))
	for field, payload := range raw {
		variable, period, labels, err := decodeField(field)
		if err != nil {
			return nil, err
		}
		e, err := dataset.DecodeEntry(variable, period, labels, []byte(payload))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return dataset.FromEntries(entries), nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.indexKey(), name)
		pipe.Del(ctx, s.datasetKey(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if removed.Val() == 0 {
		return dataset.NotFoundError{Name: name}
	}
	return nil
}

var _ dataset.Store = (*Store)(nil)
