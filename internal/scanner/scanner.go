// Package scanner wraps the virus scan daemon behind an explicit state
// machine. Outside production every failure degrades to "clean"; in
// production the scanner fails closed.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned in production when the daemon could not be
	// reached during initialisation.
	ErrUnavailable = errors.New("virus scanner unavailable")
	// ErrScanFailed is returned in production when a single scan fails.
	ErrScanFailed = errors.New("virus scan failed")
)

// State of the scanner client.
type State int32

const (
	StateUninitialized State = iota
	StateDisabled
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDisabled:
		return "disabled"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is the verdict for one payload. Skipped is set when no scan ran
// because the scanner is disabled or degraded.
type Result struct {
	Infected   bool
	Signatures []string
	Skipped    bool
}

// Daemon is the scan backend.
type Daemon interface {
	Ping(ctx context.Context) error
	Scan(ctx context.Context, r io.Reader) (Result, error)
}

type Config struct {
	Enabled    bool
	Production bool
	Timeout    time.Duration
}

// Client is the process-wide scanner.
type Client struct {
	cfg    Config
	daemon Daemon
	logger *zap.Logger

	initMu sync.Mutex
	state  atomic.Int32
}

// New constructs a Client in the uninitialized state.
func New(cfg Config, daemon Daemon, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{cfg: cfg, daemon: daemon, logger: logger.Named("scanner")}
}

// State returns the current state for health reporting.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Init connects to the daemon once. In production a failure leaves the
// client unavailable and returns an error; elsewhere it disables scanning.
func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	switch c.State() {
	case StateUninitialized:
	case StateUnavailable:
		return ErrUnavailable
	default:
		return nil
	}

	if !c.cfg.Enabled || c.daemon == nil {
		c.logger.Info("virus scanning disabled by configuration")
		c.state.Store(int32(StateDisabled))
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.daemon.Ping(pingCtx); err != nil {
		// Stay uninitialized when the caller gave up so the next call retries.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ping scanner: %w", ctxErr)
		}
		if c.cfg.Production {
			c.logger.Error("virus scanner unreachable", zap.Error(err))
			c.state.Store(int32(StateUnavailable))
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		c.logger.Warn("virus scanner unreachable, scanning disabled", zap.Error(err))
		c.state.Store(int32(StateDisabled))
		return nil
	}

	c.logger.Info("virus scanner ready")
	c.state.Store(int32(StateReady))
	return nil
}

// Scan checks buf. It initialises the client on first use.
func (c *Client) Scan(ctx context.Context, buf []byte, filename string) (Result, error) {
	if c.State() == StateUninitialized {
		if err := c.Init(ctx); err != nil {
			return Result{}, err
		}
	}

	switch c.State() {
	case StateDisabled:
		return Result{Skipped: true}, nil
	case StateUnavailable:
		return Result{}, ErrUnavailable
	}

	scanCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	started := time.Now()
	res, err := c.daemon.Scan(scanCtx, bytes.NewReader(buf))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Debug("virus scan abandoned by caller", zap.String("filename", filename), zap.Error(ctxErr))
			return Result{}, fmt.Errorf("scan %s: %w", filename, ctxErr)
		}
		if c.cfg.Production {
			c.logger.Error("virus scan failed", zap.String("filename", filename), zap.Error(err))
			return Result{}, fmt.Errorf("%w: %w", ErrScanFailed, err)
		}
		c.logger.Warn("virus scan failed, treating file as clean", zap.String("filename", filename), zap.Error(err))
		return Result{Skipped: true}, nil
	}

	if res.Infected {
		c.logger.Error("infected file detected",
			zap.String("filename", filename),
			zap.Strings("signatures", res.Signatures),
		)
	} else {
		c.logger.Debug("file scanned clean", zap.String("filename", filename), zap.Duration("took", time.Since(started)))
	}
	return res, nil
}
