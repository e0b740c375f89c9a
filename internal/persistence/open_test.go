package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"microsim/internal/config"
	"microsim/pkg/dataset"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  func(*config.Config)
		want dataset.Driver
	}{
		{"default", func(c *config.Config) { c.Storage.Driver = "" }, dataset.DriverMemory},
		{"sqlite", func(c *config.Config) {
			c.Storage.Driver = dataset.DriverSQLite
			c.Storage.SQLitePath = filepath.Join(t.TempDir(), "m.db")
		}, dataset.DriverSQLite},
		{"blob", func(c *config.Config) {
			c.Storage.Driver = dataset.DriverBlob
			c.Blob.Driver = "fs"
			c.Blob.FSRoot = t.TempDir()
		}, dataset.DriverBlob},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.cfg(&cfg)
			s, err := Open(ctx, cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if s.Driver() != tc.want {
				t.Fatalf("driver = %s, want %s", s.Driver(), tc.want)
			}
			d := dataset.New()
			d.Set("person_id", "2022", []float64{1})
			if err := s.Save(ctx, "survey", d); err != nil {
				t.Fatalf("save: %v", err)
			}
			if _, err := s.Load(ctx, "survey"); err != nil {
				t.Fatalf("load: %v", err)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "mongo"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("expected error")
	}
	cfg.Storage.Driver = dataset.DriverBlob
	cfg.Blob.Driver = "gcs"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("expected blob driver error")
	}
}
