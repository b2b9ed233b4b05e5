package imagecheck

import (
	"context"
	"errors"
	"image"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/your-org/eventsphere/internal/testimage"
)

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var ie *InvalidError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidError, got %v", err)
	}
	return ie.Reason
}

func TestValidateAccepts(t *testing.T) {
	c := New(Config{})
	tests := []struct {
		name   string
		buf    []byte
		format string
	}{
		{"png", testimage.PNG(64, 32), "png"},
		{"jpeg", testimage.JPEG(20, 20), "jpeg"},
		{"gif", testimage.GIF(10, 10), "gif"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := c.Validate(context.Background(), tt.buf, "photo")
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if md.Format != tt.format || md.Channels < 1 {
				t.Fatalf("metadata = %+v", md)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	c := New(Config{MinDimension: 10, MaxDimension: 10000})
	truncated := testimage.PNG(40, 40)
	truncated = truncated[:len(truncated)-30]

	tests := []struct {
		name   string
		buf    []byte
		reason string
	}{
		{"garbage", []byte("definitely not an image"), ReasonUndecodable},
		{"too small", testimage.PNG(5, 40), ReasonTooSmall},
		{"header claims 20000x20000", testimage.PNGHeader(20000, 20000), ReasonTooLarge},
		{"header only", testimage.PNGHeader(100, 100), ReasonCorrupt},
		{"truncated data", truncated, ReasonCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Validate(context.Background(), tt.buf, "x.png")
			if got := reasonOf(t, err); got != tt.reason {
				t.Fatalf("reason = %q, want %q (%v)", got, tt.reason, err)
			}
		})
	}
}

func TestValidateDecodeTimeout(t *testing.T) {
	c := New(Config{DecodeTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	c.decode = func(io.Reader) (image.Image, string, error) {
		<-release
		return nil, "", errors.New("released")
	}

	_, err := c.Validate(context.Background(), testimage.PNG(12, 12), "slow.png")
	if got := reasonOf(t, err); got != ReasonDecodeTimeout {
		t.Fatalf("reason = %q", got)
	}
}

func TestValidateCancelled(t *testing.T) {
	c := New(Config{})
	c.decode = func(io.Reader) (image.Image, string, error) {
		time.Sleep(time.Second)
		return nil, "", errors.New("late")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Validate(ctx, testimage.PNG(12, 12), "x.png")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAbandonedDecodeHoldsSlot(t *testing.T) {
	c := New(Config{DecodeTimeout: 20 * time.Millisecond, MaxConcurrentDecodes: 1})
	release := make(chan struct{})
	var calls atomic.Int32
	c.decode = func(r io.Reader) (image.Image, string, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return image.Decode(r)
	}
	img := testimage.PNG(12, 12)

	_, err := c.Validate(context.Background(), img, "stuck.png")
	if got := reasonOf(t, err); got != ReasonDecodeTimeout {
		t.Fatalf("first reason = %q", got)
	}

	// The first decode still runs, so the second never starts.
	_, err = c.Validate(context.Background(), img, "queued.png")
	if got := reasonOf(t, err); got != ReasonDecodeTimeout {
		t.Fatalf("second reason = %q", got)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("decode calls = %d, want 1", n)
	}

	close(release)
	c.cfg.DecodeTimeout = 5 * time.Second
	meta, err := c.Validate(context.Background(), img, "after.png")
	if err != nil {
		t.Fatalf("Validate after release: %v", err)
	}
	if meta.Width != 12 || calls.Load() != 2 {
		t.Fatalf("meta = %+v calls = %d", meta, calls.Load())
	}
}
