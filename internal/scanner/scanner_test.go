package scanner

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/testimage"
)

type fakeDaemon struct {
	pingErr error
	scanErr error
	// block makes Ping and Scan wait for their context.
	block bool
	pings   atomic.Int32
	scans   atomic.Int32
}

func (f *fakeDaemon) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.pingErr
}

func (f *fakeDaemon) Scan(ctx context.Context, r io.Reader) (Result, error) {
	f.scans.Add(1)
	if f.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if f.scanErr != nil {
		return Result{}, f.scanErr
	}
	data, _ := io.ReadAll(r)
	if strings.Contains(string(data), "EICAR-STANDARD-ANTIVIRUS-TEST-FILE") {
		return Result{Infected: true, Signatures: []string{"Eicar-Test-Signature"}}, nil
	}
	return Result{}, nil
}

func TestDisabledReportsClean(t *testing.T) {
	daemon := &fakeDaemon{}
	c := New(Config{Enabled: false}, daemon, zap.NewNop())

	res, err := c.Scan(context.Background(), []byte(testimage.EICAR), "eicar.com")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Infected || !res.Skipped {
		t.Fatalf("result = %+v, want skipped clean", res)
	}
	if c.State() != StateDisabled {
		t.Fatalf("state = %v", c.State())
	}
	if daemon.pings.Load() != 0 || daemon.scans.Load() != 0 {
		t.Fatal("disabled scanner contacted the daemon")
	}
}

func TestInitTransitions(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		production bool
		pingErr    error
		wantState  State
		wantErr    error
	}{
		{"disabled", false, true, nil, StateDisabled, nil},
		{"ready", true, true, nil, StateReady, nil},
		{"dev ping failure degrades", true, false, errors.New("refused"), StateDisabled, nil},
		{"prod ping failure is fatal", true, true, errors.New("refused"), StateUnavailable, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{Enabled: tt.enabled, Production: tt.production}, &fakeDaemon{pingErr: tt.pingErr}, zap.NewNop())
			err := c.Init(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Init err = %v, want %v", err, tt.wantErr)
			}
			if c.State() != tt.wantState {
				t.Fatalf("state = %v, want %v", c.State(), tt.wantState)
			}
		})
	}
}

func TestInitRunsOnce(t *testing.T) {
	daemon := &fakeDaemon{}
	c := New(Config{Enabled: true}, daemon, zap.NewNop())
	for i := 0; i < 3; i++ {
		if err := c.Init(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if daemon.pings.Load() != 1 {
		t.Fatalf("pings = %d, want 1", daemon.pings.Load())
	}
}

func TestScanLazyInitAndVerdict(t *testing.T) {
	daemon := &fakeDaemon{}
	c := New(Config{Enabled: true, Production: true}, daemon, zap.NewNop())

	res, err := c.Scan(context.Background(), []byte(testimage.EICAR), "eicar.com")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Infected || res.Signatures[0] != "Eicar-Test-Signature" {
		t.Fatalf("result = %+v", res)
	}
	if c.State() != StateReady {
		t.Fatalf("state = %v", c.State())
	}
}

func TestScanFailure(t *testing.T) {
	t.Run("production fails closed", func(t *testing.T) {
		c := New(Config{Enabled: true, Production: true}, &fakeDaemon{scanErr: errors.New("timeout")}, zap.NewNop())
		_, err := c.Scan(context.Background(), []byte("data"), "a.png")
		if !errors.Is(err, ErrScanFailed) {
			t.Fatalf("err = %v, want ErrScanFailed", err)
		}
		if c.State() != StateReady {
			t.Fatalf("per-call failure changed state to %v", c.State())
		}
	})
	t.Run("development degrades", func(t *testing.T) {
		c := New(Config{Enabled: true}, &fakeDaemon{scanErr: errors.New("timeout")}, zap.NewNop())
		res, err := c.Scan(context.Background(), []byte("data"), "a.png")
		if err != nil || res.Infected || !res.Skipped {
			t.Fatalf("res = %+v, err = %v", res, err)
		}
	})
	t.Run("unavailable keeps failing", func(t *testing.T) {
		c := New(Config{Enabled: true, Production: true}, &fakeDaemon{pingErr: errors.New("down")}, zap.NewNop())
		for i := 0; i < 2; i++ {
			if _, err := c.Scan(context.Background(), []byte("data"), "a.png"); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("attempt %d: err = %v", i, err)
			}
		}
	})
}

func TestScanCallerCancellation(t *testing.T) {
	daemon := &fakeDaemon{}
	c := New(Config{Enabled: true, Production: true, Timeout: time.Minute}, daemon, zap.NewNop())
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	daemon.block = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ctx, abort := context.WithCancel(ctx)
	go func() {
		time.Sleep(5 * time.Millisecond)
		abort()
	}()

	_, err := c.Scan(ctx, []byte("data"), "a.png")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrScanFailed) {
		t.Fatalf("caller cancellation reported as scan failure: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("state = %v, want ready", c.State())
	}
}

func TestScanFailureKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	c := New(Config{Enabled: true, Production: true}, &fakeDaemon{scanErr: cause}, zap.NewNop())
	_, err := c.Scan(context.Background(), []byte("data"), "a.png")
	if !errors.Is(err, ErrScanFailed) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want ErrScanFailed wrapping the daemon error", err)
	}
}

func TestInitCancelledStaysUninitialized(t *testing.T) {
	c := New(Config{Enabled: true, Production: true, Timeout: time.Minute}, &fakeDaemon{block: true}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Init(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Init err = %v, want context.Canceled", err)
	}
	if c.State() != StateUninitialized {
		t.Fatalf("state = %v, want uninitialized", c.State())
	}
}
