package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ukuvago/contractdesk/internal/config"
)

// DocumentStore persists generated documents such as executed contract PDFs.
type DocumentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// NewDocumentStore picks the backend named by STORAGE_DRIVER.
func NewDocumentStore(ctx context.Context, cfg *config.Config) (DocumentStore, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return NewStorageService(cfg)
	case "minio":
		store, err := NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// executedDocumentKey names the archived PDF of a fully signed contract version.
func executedDocumentKey(contractID uuid.UUID, version int) string {
	return fmt.Sprintf("contracts/%s/executed_v%d.pdf", contractID, version)
}

// StorageService keeps documents on the local filesystem under UploadDir.
type StorageService struct {
	config *config.Config
	root   string
}

func NewStorageService(cfg *config.Config) (*StorageService, error) {
	root := filepath.Join(cfg.UploadDir, "documents")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &StorageService{config: cfg, root: root}, nil
}

func (s *StorageService) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid document key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put saves a document, replacing any previous content under key.
func (s *StorageService) Put(ctx context.Context, key string, data []byte, contentType string) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

func (s *StorageService) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filePath)
}

// MinioStore keeps documents in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.MinioBucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
