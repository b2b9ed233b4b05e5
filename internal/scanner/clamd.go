package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const clamdChunkSize = 64 * 1024

// Clamd talks to a clamd daemon over TCP. Every call opens its own
// connection, so concurrent scans do not share state.
type Clamd struct {
	addr   string
	dialer net.Dialer
}

// NewClamd returns an adapter for the daemon at addr (host:port).
func NewClamd(addr string) *Clamd {
	return &Clamd{addr: addr}
}

func (c *Clamd) dial(ctx context.Context) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial clamd %s: %w", c.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock reads when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return &ctxConn{Conn: conn, stop: stop}, nil
}

type ctxConn struct {
	net.Conn
	stop func() bool
}

func (c *ctxConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// Ping checks that the daemon answers PONG.
func (c *Clamd) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	reply, err := readReply(conn)
	if err != nil {
		return fmt.Errorf("read ping: %w", err)
	}
	if reply != "PONG" {
		return fmt.Errorf("unexpected ping reply %q", reply)
	}
	return nil
}

// Scan streams r to the daemon with INSTREAM and parses the verdict.
func (c *Clamd) Scan(ctx context.Context, r io.Reader) (Result, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	w := bufio.NewWriterSize(conn, clamdChunkSize+4)
	if _, err := w.WriteString("zINSTREAM\x00"); err != nil {
		return Result{}, fmt.Errorf("write instream: %w", err)
	}

	chunk := make([]byte, clamdChunkSize)
	var size [4]byte
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			binary.BigEndian.PutUint32(size[:], uint32(n))
			if _, err := w.Write(size[:]); err != nil {
				return Result{}, fmt.Errorf("write chunk size: %w", err)
			}
			if _, err := w.Write(chunk[:n]); err != nil {
				return Result{}, fmt.Errorf("write chunk: %w", err)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return Result{}, fmt.Errorf("read payload: %w", rerr)
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := w.Write(size[:]); err != nil {
		return Result{}, fmt.Errorf("write terminator: %w", err)
	}
	if err := w.Flush(); err != nil {
		return Result{}, fmt.Errorf("flush stream: %w", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		return Result{}, fmt.Errorf("read verdict: %w", err)
	}
	return parseVerdict(reply)
}

func readReply(r io.Reader) (string, error) {
	reply, err := bufio.NewReader(r).ReadBytes(0)
	if err != nil && !(errors.Is(err, io.EOF) && len(reply) > 0) {
		return "", err
	}
	return string(bytes.TrimRight(reply, "\x00\n")), nil
}

// parseVerdict understands "stream: OK", "stream: <sig> FOUND" and
// "<msg> ERROR" replies.
func parseVerdict(reply string) (Result, error) {
	_, body, found := strings.Cut(reply, ": ")
	if !found {
		body = reply
	}
	switch {
	case body == "OK":
		return Result{}, nil
	case strings.HasSuffix(body, " FOUND"):
		sig := strings.TrimSpace(strings.TrimSuffix(body, " FOUND"))
		return Result{Infected: true, Signatures: []string{sig}}, nil
	case strings.HasSuffix(body, " ERROR"):
		return Result{}, fmt.Errorf("clamd error: %s", strings.TrimSuffix(body, " ERROR"))
	default:
		return Result{}, fmt.Errorf("unexpected clamd reply %q", reply)
	}
}
