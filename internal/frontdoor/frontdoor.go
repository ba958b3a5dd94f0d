// Package frontdoor implements the Lifecycle Façade (spec.md §4.7): the
// thin orchestrator that wires the Backend Supervisor, Admin Channel,
// Provisioner, and Router together and exposes start/stop/stats to external
// collaborators (the CLI entry point).
package frontdoor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"pgfrontdoor/internal/admin"
	"pgfrontdoor/internal/backend"
	"pgfrontdoor/internal/provision"
	"pgfrontdoor/internal/router"
	"pgfrontdoor/pkg/logger"
)

// Options configures a FrontDoor. It mirrors the subset of internal/config
// needed to construct one.
type Options struct {
	ListenHost     string
	ListenPort     int
	MaxConnections int

	BackendDataDir            string
	BackendUseRAMDisk         bool
	BackendPort               int
	BackendBinDir             string
	BackendAdminUser          string
	BackendAdminPassword      string
	BackendLogicalReplication bool
	BackendStartupTimeout     time.Duration
	BackendUnixSocket         bool

	AutoProvision         bool
	MaxStartupMessageSize int
}

// Stats reports the FrontDoor's observable state (spec.md §4.7 "stats()").
type Stats struct {
	ListenAddr      string
	ActiveSessions  int
	Databases       []string
	BackendDataDir  string
	BackendTCPPort  int
	BackendAlive    bool
	BackendIsSocket bool
}

// FrontDoor owns every long-lived component of one running instance.
type FrontDoor struct {
	opts Options

	supervisor *backend.Supervisor
	admin      *admin.Channel
	provisoner *provision.Provisioner
	router     *router.Router

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
}

// New constructs a FrontDoor and starts every component: Backend Supervisor,
// Admin Channel, Provisioner (seeded from existing databases when the data
// directory is persistent), then the Router (spec.md §4.7).
func New(ctx context.Context, opts Options) (*FrontDoor, error) {
	sup := backend.New(backend.Options{
		DataDir:            opts.BackendDataDir,
		UseRAMDisk:         opts.BackendUseRAMDisk,
		Host:               "127.0.0.1",
		Port:               opts.BackendPort,
		BinDir:             opts.BackendBinDir,
		AdminUser:          opts.BackendAdminUser,
		AdminPassword:      opts.BackendAdminPassword,
		LogicalReplication: opts.BackendLogicalReplication,
		StartupTimeout:     opts.BackendStartupTimeout,
		UnixSocket:         opts.BackendUnixSocket,
	})
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("frontdoor: start backend: %w", err)
	}

	user, password := sup.AdminCredentials()
	adminChan, err := admin.Dial(ctx, sup.Host(), sup.TCPPort(), user, password)
	if err != nil {
		_ = sup.Stop()
		return nil, fmt.Errorf("frontdoor: dial admin channel: %w", err)
	}

	var existing []string
	if !sup.Ephemeral() {
		existing, err = adminChan.ExistingDatabases(ctx)
		if err != nil {
			adminChan.Close()
			_ = sup.Stop()
			return nil, fmt.Errorf("frontdoor: list existing databases: %w", err)
		}
	}
	provisioner := provision.New(adminChan, existing, opts.AutoProvision)

	maxConns := opts.MaxConnections
	r := router.New(router.Options{
		Host:                  opts.ListenHost,
		Port:                  opts.ListenPort,
		MaxConnections:        maxConns,
		MaxStartupMessageSize: opts.MaxStartupMessageSize,
		Provisioner:           provisioner,
		Dialer:                &backendDialer{supervisor: sup},
	})
	if err := r.Start(); err != nil {
		adminChan.Close()
		_ = sup.Stop()
		return nil, fmt.Errorf("frontdoor: start router: %w", err)
	}

	fd := &FrontDoor{
		opts:       opts,
		supervisor: sup,
		admin:      adminChan,
		provisoner: provisioner,
		router:     r,
	}
	logger.Info("frontdoor: ready, listening on %s", r.Addr())
	return fd, nil
}

// Stop shuts everything down in reverse start order: router, admin channel,
// backend supervisor. Stop is idempotent (spec.md §4.7, §8 "Idempotence").
func (f *FrontDoor) Stop() error {
	var err error
	f.stopOnce.Do(func() {
		if stopErr := f.router.Stop(); stopErr != nil {
			logger.Error("frontdoor: stop router: %v", stopErr)
			err = stopErr
		}
		f.admin.Close()
		if stopErr := f.supervisor.Stop(); stopErr != nil {
			logger.Error("frontdoor: stop backend: %v", stopErr)
			if err == nil {
				err = stopErr
			}
		}
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	})
	return err
}

// Stats reports current counts and backend metadata (spec.md §4.7 "stats()").
func (f *FrontDoor) Stats() Stats {
	socketPath, isSocket := f.supervisor.SocketPath()
	addr := f.router.Addr()
	addrStr := ""
	if addr != nil {
		addrStr = addr.String()
	}
	return Stats{
		ListenAddr:      addrStr,
		ActiveSessions:  f.router.ActiveSessions(),
		Databases:       f.provisoner.Snapshot(),
		BackendDataDir:  f.supervisor.DataDir(),
		BackendTCPPort:  f.supervisor.TCPPort(),
		BackendAlive:    f.supervisor.IsAlive(),
		BackendIsSocket: isSocket && socketPath != "",
	}
}

// backendDialer adapts *backend.Supervisor to session.BackendDialer /
// router.Dialer, preferring the local Unix socket when the supervisor
// allocated one (spec.md §4.5 "Dial the backend: prefer the local socket
// path when available, else TCP").
type backendDialer struct {
	supervisor *backend.Supervisor
}

func (d *backendDialer) Dial(ctx context.Context) (net.Conn, error) {
	var dialer net.Dialer
	if socketDir, ok := d.supervisor.SocketPath(); ok {
		socketPath := fmt.Sprintf("%s/.s.PGSQL.%d", socketDir, d.supervisor.TCPPort())
		conn, err := dialer.DialContext(ctx, "unix", socketPath)
		if err == nil {
			return conn, nil
		}
		logger.Debug("frontdoor: unix socket dial failed (%v), falling back to TCP", err)
	}
	addr := fmt.Sprintf("%s:%d", d.supervisor.Host(), d.supervisor.TCPPort())
	return dialer.DialContext(ctx, "tcp", addr)
}
