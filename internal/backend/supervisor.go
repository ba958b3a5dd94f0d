// Package backend implements the Backend Supervisor (spec.md §4.2): process
// lifecycle management for an embedded PostgreSQL server — data directory
// initialization, startup detection, graceful shutdown.
//
// No library in the retrieval pack supervises a real PostgreSQL server
// binary directly (the closest relatives manage it inside a container
// runtime); this package therefore drives `initdb`/`postgres` with
// os/exec, which is the standard idiom for wrapping an external process in
// Go (see DESIGN.md).
package backend

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"pgfrontdoor/pkg/logger"
)

// bootLogCap bounds the boot output buffer retained for diagnostics.
const bootLogCap = 64 * 1024

// gracefulShutdownWait is how long Stop waits for the server to exit after
// a graceful stop signal before force-killing it (spec.md §4.2 "Shutdown").
const gracefulShutdownWait = 5 * time.Second

// Options configures a Supervisor.
type Options struct {
	// DataDir, when set, is used as a persistent data directory. Empty
	// means ephemeral.
	DataDir string
	// UseRAMDisk requests a shared-memory-backed ephemeral data directory.
	UseRAMDisk bool
	// Host is the address the backend listens on for TCP (and the address
	// clients/the Admin Channel dial).
	Host string
	// Port is the TCP port to request; 0 picks any free port.
	Port int
	// BinDir, if set, is searched for `initdb`/`postgres` ahead of $PATH.
	BinDir string
	// AdminUser/AdminPassword identify the Admin Channel's superuser. When
	// AdminPassword is empty, the password generated by initdb is used.
	AdminUser     string
	AdminPassword string
	// LogicalReplication adds wal_level=logical and friends at spawn time
	// (spec.md §6), for the optional outbound-sync collaborator.
	LogicalReplication bool
	// StartupTimeout bounds how long Start waits for readiness.
	StartupTimeout time.Duration
	// UnixSocket requests a local domain socket directory in addition to TCP.
	UnixSocket bool
}

// Supervisor owns one embedded PostgreSQL server process.
type Supervisor struct {
	opts Options

	dataDir   string
	ephemeral bool
	socketDir string

	cmd  *exec.Cmd
	boot *ringBuffer

	mu            sync.RWMutex
	ready         bool
	port          int
	adminPassword string
}

// New allocates (but does not start) a Supervisor for opts.
func New(opts Options) *Supervisor {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.AdminUser == "" {
		opts.AdminUser = "postgres"
	}
	if opts.StartupTimeout == 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	return &Supervisor{opts: opts, boot: newRingBuffer(bootLogCap)}
}

// Start initializes the data directory if needed, spawns the server, and
// returns once it accepts connections (spec.md §4.2 "start()").
func (s *Supervisor) Start(ctx context.Context) error {
	dataDir, ephemeral, err := allocateDataDir(s.opts.DataDir, s.opts.UseRAMDisk)
	if err != nil {
		return err
	}
	s.dataDir = dataDir
	s.ephemeral = ephemeral

	if s.opts.UnixSocket {
		socketDir, err := allocateSocketDir()
		if err != nil {
			return err
		}
		s.socketDir = socketDir
	}

	adminPassword := s.opts.AdminPassword
	if !isInitialized(dataDir) {
		generated, err := runInitdb(ctx, s.opts.BinDir, dataDir, s.opts.AdminUser)
		if err != nil {
			return err
		}
		if adminPassword == "" {
			adminPassword = generated
		}
	}
	s.mu.Lock()
	s.adminPassword = adminPassword
	s.mu.Unlock()

	port := s.opts.Port
	if port == 0 {
		port, err = freePort()
		if err != nil {
			return fmt.Errorf("backend: pick free port: %w", err)
		}
	}

	if err := s.spawn(port); err != nil {
		return err
	}

	if err := waitReady(ctx, s.opts.Host, port, s.boot, s.opts.StartupTimeout); err != nil {
		_ = s.terminate()
		if s.ephemeral {
			os.RemoveAll(s.dataDir)
		}
		if s.socketDir != "" {
			os.RemoveAll(s.socketDir)
		}
		return err
	}

	s.mu.Lock()
	s.port = port
	s.ready = true
	s.mu.Unlock()
	logger.Info("backend: ready on %s:%d (data dir %s)", s.opts.Host, port, dataDir)
	return nil
}

func (s *Supervisor) spawn(port int) error {
	postgresPath, err := binPath(s.opts.BinDir, "postgres")
	if err != nil {
		return err
	}

	args := []string{
		"-D", s.dataDir,
		"-p", strconv.Itoa(port),
		"-h", s.opts.Host,
	}
	if s.socketDir != "" {
		args = append(args, "-c", "unix_socket_directories="+s.socketDir)
	}
	if s.opts.LogicalReplication {
		args = append(args,
			"-c", "wal_level=logical",
			"-c", "max_replication_slots=10",
			"-c", "max_wal_senders=10",
			"-c", "wal_keep_size=512MB",
		)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("backend: create boot output pipe: %w", err)
	}

	cmd := exec.Command(postgresPath, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	go s.drainBootOutput(pr)

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("backend: spawn postgres: %w", err)
	}
	pw.Close() // the child holds the write end now; our copy must close so drainBootOutput's Scan sees EOF on exit
	s.cmd = cmd
	return nil
}

func (s *Supervisor) drainBootOutput(r *os.File) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		s.boot.Write(line)
		s.boot.Write([]byte("\n"))
		logger.Debug("backend: %s", line)
	}
}

// Stop terminates the backend gracefully, force-killing on timeout, and
// removes ephemeral storage (spec.md §4.2 "Shutdown"). Stop is idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	wasReady := s.ready
	s.ready = false
	s.mu.Unlock()
	if !wasReady {
		return nil
	}

	if err := s.terminate(); err != nil {
		logger.Error("backend: error stopping process: %v", err)
	}

	if s.ephemeral && s.dataDir != "" {
		if err := os.RemoveAll(s.dataDir); err != nil {
			logger.Error("backend: failed to remove ephemeral data dir %s: %v", s.dataDir, err)
		}
	}
	if s.socketDir != "" {
		if err := os.RemoveAll(s.socketDir); err != nil {
			logger.Error("backend: failed to remove socket dir %s: %v", s.socketDir, err)
		}
	}
	return nil
}

func (s *Supervisor) terminate() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return s.cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(gracefulShutdownWait):
		if err := s.cmd.Process.Kill(); err != nil {
			return err
		}
		<-done
		return nil
	}
}

// IsAlive reports whether the backend process is believed to still be
// running (spec.md §4.2 "isAlive()").
func (s *Supervisor) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready || s.cmd == nil || s.cmd.Process == nil {
		return false
	}
	return s.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// TCPPort returns the port the backend bound for TCP connections.
func (s *Supervisor) TCPPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Host returns the address the backend listens on.
func (s *Supervisor) Host() string { return s.opts.Host }

// SocketPath returns the backend's Unix domain socket directory and true,
// or ("", false) when no socket was requested (spec.md §4.2 "socketPath()").
func (s *Supervisor) SocketPath() (string, bool) {
	if s.socketDir == "" {
		return "", false
	}
	return s.socketDir, true
}

// AdminCredentials returns the superuser name/password for the Admin Channel.
func (s *Supervisor) AdminCredentials() (user, password string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.AdminUser, s.adminPassword
}

// DataDir returns the backend's data directory.
func (s *Supervisor) DataDir() string { return s.dataDir }

// Ephemeral reports whether the data directory will be removed on Stop.
func (s *Supervisor) Ephemeral() bool { return s.ephemeral }

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
