package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/your-org/eventsphere/internal/testimage"
)

// startFakeClamd serves PING and INSTREAM on a loopback listener.
func startFakeClamd(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveClamd(conn)
		}
	}()
	return ln.Addr().String()
}

func serveClamd(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	cmd, err := r.ReadString(0)
	if err != nil {
		return
	}
	switch strings.TrimSuffix(cmd, "\x00") {
	case "zPING":
		conn.Write([]byte("PONG\x00"))
	case "zINSTREAM":
		var payload bytes.Buffer
		var size [4]byte
		for {
			if _, err := io.ReadFull(r, size[:]); err != nil {
				return
			}
			n := binary.BigEndian.Uint32(size[:])
			if n == 0 {
				break
			}
			if _, err := io.CopyN(&payload, r, int64(n)); err != nil {
				return
			}
		}
		if bytes.Contains(payload.Bytes(), []byte("EICAR-STANDARD-ANTIVIRUS-TEST-FILE")) {
			conn.Write([]byte("stream: Eicar-Test-Signature FOUND\x00"))
			return
		}
		conn.Write([]byte("stream: OK\x00"))
	default:
		conn.Write([]byte("UNKNOWN COMMAND\x00"))
	}
}

func TestClamdPingAndScan(t *testing.T) {
	c := NewClamd(startFakeClamd(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	res, err := c.Scan(ctx, strings.NewReader(testimage.EICAR))
	if err != nil {
		t.Fatalf("Scan eicar: %v", err)
	}
	if !res.Infected || len(res.Signatures) != 1 || res.Signatures[0] != "Eicar-Test-Signature" {
		t.Fatalf("eicar result = %+v", res)
	}

	// Larger than one chunk.
	res, err = c.Scan(ctx, bytes.NewReader(bytes.Repeat([]byte{0x42}, 3*clamdChunkSize+17)))
	if err != nil {
		t.Fatalf("Scan clean: %v", err)
	}
	if res.Infected {
		t.Fatalf("clean payload flagged: %+v", res)
	}
}

func TestClamdDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if err := NewClamd(addr).Ping(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply    string
		infected bool
		wantErr  bool
	}{
		{"stream: OK", false, false},
		{"stream: Win.Test.EICAR_HDB-1 FOUND", true, false},
		{"INSTREAM size limit exceeded. ERROR", false, true},
		{"garbage", false, true},
	}
	for _, tt := range tests {
		res, err := parseVerdict(tt.reply)
		if (err != nil) != tt.wantErr || res.Infected != tt.infected {
			t.Errorf("parseVerdict(%q) = %+v, %v", tt.reply, res, err)
		}
	}
}
