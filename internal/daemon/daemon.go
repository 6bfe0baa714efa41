// Package daemon owns the process-level lifecycle of a served store:
// settings, logging, the store lock, the kernel or NFS surface and the
// shutdown on SIGINT/SIGTERM.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"rmxfs/internal/fusefs"
	"rmxfs/internal/metrics"
	"rmxfs/internal/netfs"
	"rmxfs/internal/storage"
	"rmxfs/internal/util"
	"rmxfs/internal/vfs"
)

// Daemon serves one store.
type Daemon struct {
	Source   string
	Settings *Settings

	lock     *flock.Flock
	bridge   *vfs.Bridge
	registry *prometheus.Registry
}

// Open locks the store at source and indexes it.
func Open(ctx context.Context, source string, settings *Settings) (*Daemon, error) {
	return open(ctx, source, settings, true)
}

// Inspect indexes the store at source without taking the store lock. It
// serves read-only tooling next to a running mount; callers must not
// mutate through it.
func Inspect(ctx context.Context, source string, settings *Settings) (*Daemon, error) {
	return open(ctx, source, settings, false)
}

func open(ctx context.Context, source string, settings *Settings, exclusive bool) (*Daemon, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStore(abs, settings.DocTypes())
	if err != nil {
		return nil, err
	}
	d := &Daemon{Source: store.Root(), Settings: settings}
	if exclusive {
		if d.lock, err = LockStore(store.Root()); err != nil {
			return nil, err
		}
	}

	opts := settings.BridgeOptions()
	if exclusive && settings.MetricsListen != "" {
		d.registry = metrics.NewRegistry()
		opts.Metrics = metrics.NewBridgeMetrics(d.registry)
	}
	bridge, err := vfs.NewBridge(ctx, store, opts)
	if err != nil {
		if d.lock != nil {
			d.lock.Unlock()
		}
		return nil, err
	}
	d.bridge = bridge
	log.Infof("Opened store %s (PID %d, exclusive=%v)", d.Source, os.Getpid(), exclusive)
	return d, nil
}

// Bridge returns the filesystem engine.
func (d *Daemon) Bridge() *vfs.Bridge {
	return d.bridge
}

// Close releases open files and the store lock.
func (d *Daemon) Close() error {
	var errs []error
	if d.bridge != nil {
		errs = append(errs, d.bridge.Close())
	}
	if d.lock != nil {
		errs = append(errs, d.lock.Unlock())
	}
	return errors.Join(errs...)
}

// startMetrics serves the registry until ctx is done.
func (d *Daemon) startMetrics(ctx context.Context) {
	if d.registry == nil {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, d.Settings.MetricsListen, d.registry); err != nil {
			log.Errorf("[Metrics] %v", err)
		}
	}()
}

// waitForShutdown blocks until SIGINT, SIGTERM or ctx is done.
func waitForShutdown(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Infof("Stop requested, shutting down...")
	}
}

// MountFUSE mounts the store at target and blocks until SIGINT, SIGTERM or
// ctx is done. The kernel unmounting the filesystem also returns.
func (d *Daemon) MountFUSE(ctx context.Context, target string, debug bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := fusefs.Mount(fusefs.Options{
		Mountpoint:   target,
		Bridge:       d.bridge,
		EntryTimeout: d.Settings.EntryTimeout(),
		AttrTimeout:  d.Settings.EntryTimeout(),
		AllowOther:   d.Settings.AllowOther,
		Debug:        debug,
	})
	if err != nil {
		return err
	}
	log.Infof("[FUSE] mounted %s at %s", d.Source, target)
	d.startMetrics(ctx)

	// fusermount -u by hand ends Wait
	go func() {
		server.Wait()
		cancel()
	}()
	waitForShutdown(ctx)

	err = util.Retry(context.Background(), func() error {
		err := server.Unmount()
		if err != nil {
			log.Warnf("[FUSE] unmount %s: %v", target, err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	log.Infof("[FUSE] unmounted %s", target)
	return nil
}

// ServeNFS exports the store at addr and blocks until SIGINT, SIGTERM or
// ctx is done. With a non-empty mountPath the export is also mounted there
// and unmounted again on shutdown. ready, if set, receives the bound address.
func (d *Daemon) ServeNFS(ctx context.Context, addr, mountPath string, ready func(net.Addr)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr == "" {
		addr = d.Settings.NFSListen
	}
	server := netfs.NewServer(d.bridge)
	if err := server.Listen(addr); err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve()
		cancel()
	}()
	defer server.Shutdown()

	bound := server.Addr().(*net.TCPAddr)
	if ready != nil {
		ready(bound)
	}
	d.startMetrics(ctx)

	if mountPath != "" {
		ip := bound.IP.String()
		if err := waitForPort(ip, bound.Port, 5*time.Second); err != nil {
			return err
		}
		if err := netfs.Mount(ip, bound.Port, mountPath); err != nil {
			return err
		}
		// The kernel client must go before the server or it hangs until
		// the soft timeout.
		defer func() {
			if err := netfs.Unmount(mountPath); err != nil {
				log.Errorf("[NFS] %v", err)
			}
		}()
	}

	waitForShutdown(ctx)
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// waitForPort waits until a port is accepting connections on the given IP
func waitForPort(ip string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	if util.WaitWithDeadline(time.Now().Add(timeout), 50*time.Millisecond, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		return false
	}) {
		return nil
	}
	return fmt.Errorf("timeout waiting for port %d", port)
}
