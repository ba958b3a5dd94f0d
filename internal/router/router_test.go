package router

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

type fakeProvisioner struct{}

func (fakeProvisioner) Ensure(ctx context.Context, name string) error { return nil }

// fakeDialer opens a loopback TCP connection to an embedded echo-ish server
// so sessions have something real to splice against.
type fakeDialer struct {
	addr string
}

func (d *fakeDialer) Dial(ctx context.Context) (net.Conn, error) {
	return net.Dial("tcp", d.addr)
}

// startEchoBackend starts a tiny backend stand-in that echoes every byte it
// receives, the replayed StartupMessage included.
func startEchoBackend(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						c.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func buildStartupMessage(params map[string]string) []byte {
	body := []byte{0, 3, 0, 0} // protocol version 3.0
	for k, v := range params {
		body = append(body, k...)
		body = append(body, 0)
		body = append(body, v...)
		body = append(body, 0)
	}
	body = append(body, 0)
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(body)+4))
	return append(length, body...)
}

func TestRouterHandshakeAndSplice(t *testing.T) {
	backendAddr := startEchoBackend(t)

	r := New(Options{
		Host:        "127.0.0.1",
		Port:        0,
		Provisioner: fakeProvisioner{},
		Dialer:      &fakeDialer{addr: backendAddr},
	})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	conn, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("dial router: %v", err)
	}
	defer conn.Close()

	msg := buildStartupMessage(map[string]string{"user": "alice", "database": "testdb"})
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write startup: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	echoed := make([]byte, len(msg))
	if _, err := readFull(conn, echoed); err != nil {
		t.Fatalf("read echoed startup: %v", err)
	}

	payload := []byte("hello backend")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := readFull(conn, got); err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("got %q, want %q", got, payload)
	}

	if n := r.ActiveSessions(); n != 1 {
		t.Errorf("ActiveSessions() = %d, want 1", n)
	}
}

func TestRouterDeclinesSSLThenHandlesStartup(t *testing.T) {
	backendAddr := startEchoBackend(t)

	r := New(Options{
		Host:        "127.0.0.1",
		Port:        0,
		Provisioner: fakeProvisioner{},
		Dialer:      &fakeDialer{addr: backendAddr},
	})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	conn, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("dial router: %v", err)
	}
	defer conn.Close()

	sslRequest := make([]byte, 8)
	binary.BigEndian.PutUint32(sslRequest[0:4], 8)
	binary.BigEndian.PutUint32(sslRequest[4:8], 80877103)
	if _, err := conn.Write(sslRequest); err != nil {
		t.Fatalf("write ssl request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, 1)
	if _, err := readFull(conn, reply); err != nil {
		t.Fatalf("read ssl reply: %v", err)
	}
	if reply[0] != 'N' {
		t.Fatalf("ssl reply = %q, want 'N'", reply)
	}

	msg := buildStartupMessage(map[string]string{"user": "bob", "database": "otherdb"})
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write startup: %v", err)
	}
	echoed := make([]byte, len(msg))
	if _, err := readFull(conn, echoed); err != nil {
		t.Fatalf("read echoed startup: %v", err)
	}
}

func TestRouterRejectsBeyondConnectionLimit(t *testing.T) {
	backendAddr := startEchoBackend(t)

	r := New(Options{
		Host:           "127.0.0.1",
		Port:           0,
		MaxConnections: 1,
		Provisioner:    fakeProvisioner{},
		Dialer:         &fakeDialer{addr: backendAddr},
	})
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	first, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("dial router: %v", err)
	}
	defer first.Close()
	msg := buildStartupMessage(map[string]string{"user": "alice", "database": "db1"})
	if _, err := first.Write(msg); err != nil {
		t.Fatalf("write startup: %v", err)
	}
	echoed := make([]byte, len(msg))
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(first, echoed); err != nil {
		t.Fatalf("read echoed startup: %v", err)
	}

	second, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("dial router: %v", err)
	}
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Error("expected the second connection to be closed due to the connection limit")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
