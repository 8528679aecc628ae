// Package inhibit keeps the machine awake while audio is playing by holding a
// systemd-logind sleep inhibitor lock.
package inhibit

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	zlog "github.com/rs/zerolog/log"
)

const (
	login1Dest   = "org.freedesktop.login1"
	login1Path   = dbus.ObjectPath("/org/freedesktop/login1")
	login1Method = "org.freedesktop.login1.Manager.Inhibit"
)

// Locker takes an inhibitor lock. Closing the returned lock releases it.
type Locker interface {
	Acquire() (io.Closer, error)
}

// Config holds inhibitor configuration.
type Config struct {
	Who  string // application name shown by `systemd-inhibit --list`
	Why  string
	What string // colon separated lock types, "sleep:idle" by default
}

// Inhibitor holds a sleep lock while active. SetActive never blocks; the
// lock is taken and released by Run.
type Inhibitor struct {
	locker Locker

	mu      sync.Mutex
	pending *bool
	signal  chan struct{}
	lock    io.Closer
}

// New creates an inhibitor using logind on the system bus.
func New(cfg Config) *Inhibitor {
	if cfg.What == "" {
		cfg.What = "sleep:idle"
	}
	if cfg.Why == "" {
		cfg.Why = "Playing audio"
	}
	return NewWithLocker(&login1Locker{config: cfg})
}

// NewWithLocker creates an inhibitor backed by locker.
func NewWithLocker(locker Locker) *Inhibitor {
	return &Inhibitor{
		locker: locker,
		signal: make(chan struct{}, 1),
	}
}

// SetActive requests the lock to be held or released. Only the latest
// request is applied.
func (i *Inhibitor) SetActive(active bool) {
	i.mu.Lock()
	i.pending = &active
	i.mu.Unlock()

	select {
	case i.signal <- struct{}{}:
	default:
	}
}

// Held reports whether the lock is currently held.
func (i *Inhibitor) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lock != nil
}

// Run applies requests until ctx is done, then releases the lock.
func (i *Inhibitor) Run(ctx context.Context) {
	defer i.release()
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.signal:
			i.mu.Lock()
			p := i.pending
			i.pending = nil
			i.mu.Unlock()
			if p == nil {
				continue
			}
			if *p {
				i.acquire()
			} else {
				i.release()
			}
		}
	}
}

func (i *Inhibitor) acquire() {
	i.mu.Lock()
	held := i.lock != nil
	i.mu.Unlock()
	if held {
		return
	}

	lock, err := i.locker.Acquire()
	if err != nil {
		zlog.Warn().Msgf("inhibit: failed to take sleep lock: %v", err)
		return
	}

	i.mu.Lock()
	i.lock = lock
	i.mu.Unlock()
	zlog.Debug().Msg("inhibit: sleep lock taken")
}

func (i *Inhibitor) release() {
	i.mu.Lock()
	lock := i.lock
	i.lock = nil
	i.mu.Unlock()
	if lock == nil {
		return
	}

	if err := lock.Close(); err != nil {
		zlog.Debug().Msgf("inhibit: failed to release sleep lock: %v", err)
		return
	}
	zlog.Debug().Msg("inhibit: sleep lock released")
}

// login1Locker takes "block" mode locks from logind.
type login1Locker struct {
	config Config

	mu   sync.Mutex
	conn *dbus.Conn
}

func (l *login1Locker) Acquire() (io.Closer, error) {
	conn, err := l.connect()
	if err != nil {
		return nil, err
	}

	var fd dbus.UnixFD
	obj := conn.Object(login1Dest, login1Path)
	call := obj.Call(login1Method, 0, l.config.What, l.config.Who, l.config.Why, "block")
	if err := call.Store(&fd); err != nil {
		return nil, errors.Wrap(err, "logind inhibit call failed")
	}
	// The lock lives as long as the descriptor stays open
	return os.NewFile(uintptr(fd), "logind-inhibit"), nil
}

func (l *login1Locker) connect() (*dbus.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil && l.conn.Connected() {
		return l.conn, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to system bus")
	}
	l.conn = conn
	return conn, nil
}
