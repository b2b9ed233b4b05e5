package objectstore

import (
	"context"
	"testing"
)

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		key  string
		want string
	}{
		{"base url", Config{PublicBaseURL: "https://cdn.example.com/"}, "events/e1/a.jpg", "https://cdn.example.com/events/e1/a.jpg"},
		{"endpoint", Config{Endpoint: "localhost:9000", Bucket: "up"}, "a.png", "http://localhost:9000/up/a.png"},
		{"tls endpoint", Config{Endpoint: "s3.local", Bucket: "up", UseSSL: true}, "a.png", "https://s3.local/up/a.png"},
		{"escaped", Config{PublicBaseURL: "https://cdn"}, "u/my photo.jpg", "https://cdn/u/my%20photo.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicURL(tt.cfg, tt.key); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "ftp"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewMinio(t *testing.T) {
	cl, err := New(context.Background(), Config{Provider: "minio", Endpoint: "localhost:9000", Bucket: "b"})
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()
}
