// Package network detects connectivity changes and reports them to the connection machine.
package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
)

const DefaultInterval = 5 * time.Second

// Reactor receives connectivity transitions
type Reactor interface {
	NetworkLost()
	NetworkAvailable()
}

// Probe reports whether the host currently has a usable network
type Probe func() bool

// InterfaceProbe is true when a non-loopback interface is up and has an address
func InterfaceProbe() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

type Watcher struct {
	reactor  Reactor
	probe    Probe
	interval time.Duration
	logger   *logging.Logger

	mu     sync.Mutex
	online bool
	primed bool
}

type Option func(*Watcher)

func WithProbe(p Probe) Option {
	return func(w *Watcher) { w.probe = p }
}

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func NewWatcher(reactor Reactor, opts ...Option) *Watcher {
	w := &Watcher{
		reactor:  reactor,
		probe:    InterfaceProbe,
		interval: DefaultInterval,
		logger:   logging.GetLogger().Component("network"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Check probes once and reports a transition if the state changed.
// The first call only records the initial state.
func (w *Watcher) Check() {
	online := w.probe()

	w.mu.Lock()
	changed := w.primed && online != w.online
	w.online = online
	w.primed = true
	w.mu.Unlock()

	if !changed {
		return
	}
	if online {
		w.logger.Info("Network available")
		w.reactor.NetworkAvailable()
	} else {
		w.logger.Warn("Network lost")
		w.reactor.NetworkLost()
	}
}

func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Run polls until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	w.Check()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}
