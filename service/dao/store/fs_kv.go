package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/sk-go/actioncore/internal/clock"
	"github.com/sk-go/actioncore/service/dao"
)

// FsKV implements dao.KV over a filesystem (or any afs-supported storage
// scheme such as s3:// or gs://). Entries are JSON envelopes carrying the
// payload and an optional expiry; expiry is enforced lazily on read.
type FsKV struct {
	baseURL string
	fs      afs.Service
}

// NewFsKV creates a filesystem-backed durable store rooted at baseURL.
func NewFsKV(baseURL string) *FsKV {
	return &FsKV{baseURL: baseURL, fs: afs.New()}
}

type fsEnvelope struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *FsKV) location(namespace, key string) string {
	return path.Join(s.baseURL, namespace, key+".json")
}

func (s *FsKV) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	envelope := fsEnvelope{Value: value}
	if ttl > 0 {
		expiresAt := clock.Now().Add(ttl)
		envelope.ExpiresAt = &expiresAt
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s/%s: %w", namespace, key, err)
	}
	location := s.location(namespace, key)
	if err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", location, err)
	}
	return nil
}

func (s *FsKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	location := s.location(namespace, key)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", location, err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	var envelope fsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", location, err)
	}
	if envelope.ExpiresAt != nil && clock.Now().After(*envelope.ExpiresAt) {
		_ = s.fs.Delete(ctx, location)
		return nil, dao.ErrNotFound
	}
	return envelope.Value, nil
}

func (s *FsKV) Delete(ctx context.Context, namespace, key string) error {
	location := s.location(namespace, key)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil || !exists {
		return err
	}
	return s.fs.Delete(ctx, location)
}

var _ dao.KV = (*FsKV)(nil)
