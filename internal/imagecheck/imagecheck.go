// Package imagecheck verifies that an uploaded image decodes cleanly and has
// sane dimensions before it is stored.
package imagecheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"runtime"
	"time"

	// Registered decoders define the supported formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"
)

// Reason codes reported in InvalidError.
const (
	ReasonUndecodable       = "undecodable"
	ReasonUnsupportedFormat = "unsupported_format"
	ReasonMissingDimensions = "missing_dimensions"
	ReasonTooSmall          = "too_small"
	ReasonTooLarge          = "too_large"
	ReasonCorrupt           = "corrupt"
	ReasonDecodeTimeout     = "decode_timeout"
	ReasonNoChannels        = "no_channels"
)

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// InvalidError is returned when an image fails one of the integrity checks.
type InvalidError struct {
	Reason  string
	Message string
}

func (e *InvalidError) Error() string {
	return e.Message
}

func invalid(reason, format string, args ...any) error {
	return &InvalidError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsInvalid reports whether err is an integrity failure.
func IsInvalid(err error) bool {
	var ie *InvalidError
	return errors.As(err, &ie)
}

// Metadata describes a decoded image.
type Metadata struct {
	Format   string
	Width    int
	Height   int
	Channels int
}

// Config bounds the accepted images.
type Config struct {
	MinDimension  int
	MaxDimension  int
	DecodeTimeout time.Duration
	// MaxConcurrentDecodes caps full decodes in flight, including ones whose
	// caller already timed out. Defaults to GOMAXPROCS.
	MaxConcurrentDecodes int
}

// Checker runs the integrity checks.
type Checker struct {
	cfg    Config
	slots  *semaphore.Weighted
	decode func(io.Reader) (image.Image, string, error)
}

// New constructs a Checker, filling zero values with the defaults.
func New(cfg Config) *Checker {
	if cfg.MinDimension <= 0 {
		cfg.MinDimension = 10
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 10000
	}
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrentDecodes <= 0 {
		cfg.MaxConcurrentDecodes = runtime.GOMAXPROCS(0)
	}
	return &Checker{
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrentDecodes)),
		decode: image.Decode,
	}
}

// Validate inspects buf. Dimensions are read from the header alone so
// oversized images are rejected before any pixel buffer is allocated.
func (c *Checker) Validate(ctx context.Context, buf []byte, filename string) (*Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, invalid(ReasonUndecodable, "%s: unable to read image header", filename)
	}
	if !supportedFormats[format] {
		return nil, invalid(ReasonUnsupportedFormat, "%s: unsupported image format %q", filename, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, invalid(ReasonMissingDimensions, "%s: image has no dimensions", filename)
	}
	if cfg.Width < c.cfg.MinDimension || cfg.Height < c.cfg.MinDimension {
		return nil, invalid(ReasonTooSmall, "%s: image %dx%d is smaller than %dpx", filename, cfg.Width, cfg.Height, c.cfg.MinDimension)
	}
	if cfg.Width > c.cfg.MaxDimension || cfg.Height > c.cfg.MaxDimension {
		return nil, invalid(ReasonTooLarge, "%s: image %dx%d exceeds %dpx", filename, cfg.Width, cfg.Height, c.cfg.MaxDimension)
	}

	img, err := c.decodeWithDeadline(ctx, buf)
	if err != nil {
		return nil, err
	}

	channels := channelCount(img.ColorModel())
	if channels < 1 {
		return nil, invalid(ReasonNoChannels, "%s: image has no colour channels", filename)
	}

	return &Metadata{
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Channels: channels,
	}, nil
}

type decodeResult struct {
	img image.Image
	err error
}

// decodeWithDeadline runs the full decode in its own goroutine. The stdlib
// decoders take no context, so a decode that outlives the deadline keeps
// running until it finishes and holds its slot until then. Waiting for a slot
// counts against the same deadline.
func (c *Checker) decodeWithDeadline(ctx context.Context, buf []byte) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DecodeTimeout)
	defer cancel()

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, c.deadlineErr(ctx)
	}

	decode := c.decode
	done := make(chan decodeResult, 1)
	go func() {
		defer c.slots.Release(1)
		img, _, err := decode(bytes.NewReader(buf))
		done <- decodeResult{img: img, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, invalid(ReasonCorrupt, "image data is corrupt: %v", res.err)
		}
		return res.img, nil
	case <-ctx.Done():
		return nil, c.deadlineErr(ctx)
	}
}

func (c *Checker) deadlineErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return invalid(ReasonDecodeTimeout, "image decode exceeded %s", c.cfg.DecodeTimeout)
	}
	return ctx.Err()
}

func channelCount(m color.Model) int {
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return 4
			}
		}
		return 3
	}
	switch m {
	case nil:
		return 0
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel, color.CMYKModel:
		return 4
	}
	return 3
}
