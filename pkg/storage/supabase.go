package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore implements ObjectStore on Supabase Storage. Objects live in
// one bucket and are served through its public URL.
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
}

// NewSupabaseStore builds a store for projectURL (https://<ref>.supabase.co).
func NewSupabaseStore(projectURL, serviceKey, bucket string) (*SupabaseStore, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("supabase bucket is required")
	}
	return &SupabaseStore{
		client: storage_go.NewClient(projectURL+"/storage/v1", serviceKey, nil),
		bucket: bucket,
	}, nil
}

// Put uploads an object. The client has no context support, so only
// cancellation before the call is honoured.
func (s *SupabaseStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.UploadFile(s.bucket, key, r, storage_go.FileOptions{
		ContentType: &contentType,
	}); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// URL returns the public URL of the object.
func (s *SupabaseStore) URL(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res := s.client.GetPublicUrl(s.bucket, key)
	if res.SignedURL == "" {
		return "", fmt.Errorf("public url: empty response for %q", key)
	}
	return res.SignedURL, nil
}

// Delete removes an object.
func (s *SupabaseStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{key}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
