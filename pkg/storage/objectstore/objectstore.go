package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicBaseURL prefixes object keys in returned URLs. When empty the
	// path-style endpoint URL is used.
	PublicBaseURL string
}

// Object is one upload.
type Object struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Client represents the capabilities the upload service expects.
type Client interface {
	// Put stores obj and returns its public URL.
	Put(ctx context.Context, obj Object) (string, error)
	// Ping checks that the bucket is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// New creates an object store client based on the given configuration.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case "minio", "s3":
		return newMinioClient(cfg)
	case "aws":
		return newAWSClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

// PublicURL joins the base URL for cfg with key.
func PublicURL(cfg Config, key string) string {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = scheme + "://" + endpoint
		}
		base = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return base + "/" + strings.Join(parts, "/")
}

type minioClient struct {
	client *minio.Client
	cfg    Config
}

func newMinioClient(cfg Config) (Client, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{client: cl, cfg: cfg}, nil
}

func (m *minioClient) Put(ctx context.Context, obj Object) (string, error) {
	opts := minio.PutObjectOptions{UserMetadata: obj.Metadata, ContentType: obj.ContentType}
	if _, err := m.client.PutObject(ctx, m.cfg.Bucket, obj.Key, obj.Body, obj.Size, opts); err != nil {
		return "", fmt.Errorf("put %s: %w", obj.Key, err)
	}
	return PublicURL(m.cfg, obj.Key), nil
}

func (m *minioClient) Ping(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", m.cfg.Bucket)
	}
	return nil
}

func (m *minioClient) Close() error {
	return nil
}
