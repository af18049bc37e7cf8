// Package tor runs a private Tor daemon for SOCKS5 proxy mode so the crawler
// does not depend on a system Tor installation.
package tor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/tornago"
	"go.uber.org/zap"
)

// DefaultStartupTimeout bounds directory download and first circuit build.
const DefaultStartupTimeout = 3 * time.Minute

// ErrNotRunning is returned when the daemon address is requested before Start.
var ErrNotRunning = errors.New("embedded tor daemon is not running")

type process interface {
	SocksAddr() string
	Stop() error
}

type launchFunc func(startupTimeout time.Duration) (process, error)

func launchTornago(startupTimeout time.Duration) (process, error) {
	// ":0" lets the OS pick free SOCKS and control ports.
	cfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(startupTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("tor launch config: %w", err)
	}
	proc, err := tornago.StartTorDaemon(cfg)
	if err != nil {
		return nil, fmt.Errorf("start tor daemon: %w", err)
	}
	return proc, nil
}

// Daemon manages one embedded Tor process for the lifetime of a run.
type Daemon struct {
	startupTimeout time.Duration
	launch         launchFunc
	logger         *zap.Logger

	mu   sync.Mutex
	proc process
}

// NewDaemon returns a stopped daemon.
func NewDaemon(startupTimeout time.Duration, logger *zap.Logger) *Daemon {
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{startupTimeout: startupTimeout, launch: launchTornago, logger: logger}
}

// Start launches Tor and blocks until it has bootstrapped. It returns the
// SOCKS5 address to route sessions and the browser through.
func (d *Daemon) Start(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc != nil {
		return d.proc.SocksAddr(), nil
	}
	d.logger.Info("starting embedded tor", zap.Duration("startup_timeout", d.startupTimeout))
	started := time.Now()
	proc, err := d.launch(d.startupTimeout)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		_ = proc.Stop() //nolint:errcheck // best-effort cleanup after cancellation
		return "", ctx.Err()
	}
	d.proc = proc
	d.logger.Info("embedded tor ready",
		zap.String("socks_addr", proc.SocksAddr()),
		zap.Duration("took", time.Since(started)),
	)
	return proc.SocksAddr(), nil
}

// SocksAddr returns the running daemon's SOCKS5 address.
func (d *Daemon) SocksAddr() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return "", ErrNotRunning
	}
	return d.proc.SocksAddr(), nil
}

// Stop shuts the daemon down. Safe on a stopped daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return nil
	}
	err := d.proc.Stop()
	d.proc = nil
	if err != nil {
		return fmt.Errorf("stop tor daemon: %w", err)
	}
	return nil
}
