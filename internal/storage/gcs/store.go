// Package gcs keeps the snapshot table in a single Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/snapshot"
)

// Config names the object holding the table.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// Store reads and writes the table object.
type Store struct {
	client *storage.Client
	bucket string
	object string
	logger *zap.Logger
}

// New creates a GCS-backed table store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
		logger: logger.With(zap.String("store", "gcs"), zap.String("object", "gs://"+cfg.Bucket+"/"+cfg.Object)),
	}, nil
}

// Load downloads the table. A missing object is an empty table.
func (s *Store) Load(ctx context.Context) (map[string]snapshot.Entry, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return map[string]snapshot.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, s.object, err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			s.logger.Warn("failed to close GCS reader", zap.Error(cerr))
		}
	}()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, s.object, err)
	}
	return snapshot.Decode(raw)
}

// Save uploads the whole table, replacing the object.
func (s *Store) Save(ctx context.Context, entries map[string]snapshot.Entry) error {
	raw, err := snapshot.Encode(entries)
	if err != nil {
		return err
	}
	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(raw); err != nil {
		if cerr := w.Close(); cerr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, cerr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	s.logger.Debug("snapshot table uploaded", zap.Int("entries", len(entries)))
	return nil
}
