package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HORNET-Storage/hornet-relay-client/lib/auth"
	"github.com/HORNET-Storage/hornet-relay-client/lib/config"
	"github.com/HORNET-Storage/hornet-relay-client/lib/connection"
	"github.com/HORNET-Storage/hornet-relay-client/lib/feed"
	"github.com/HORNET-Storage/hornet-relay-client/lib/health"
	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/network"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
	"github.com/HORNET-Storage/hornet-relay-client/lib/publisher"
	"github.com/HORNET-Storage/hornet-relay-client/lib/signing"
	"github.com/HORNET-Storage/hornet-relay-client/lib/stores/kvp"
	kvp_bbolt "github.com/HORNET-Storage/hornet-relay-client/lib/stores/kvp/bbolt"
	"github.com/HORNET-Storage/hornet-relay-client/lib/stores/kvp/memory"
	"github.com/HORNET-Storage/hornet-relay-client/lib/transports/websocket"
	"github.com/HORNET-Storage/hornet-relay-client/lib/types"
)

// client wires every component around one relay pool
type client struct {
	cfg    *types.Config
	logger *logging.Logger

	store     kvp.KeyValueStore
	tracker   *health.Tracker
	pool      *pool.Pool
	signer    *signing.LocalSigner
	auth      *auth.Handler
	publisher *publisher.Publisher
	dedup     *feed.Deduper
	machine   *connection.Machine
	watcher   *network.Watcher

	registry   *prometheus.Registry
	metricsSrv *http.Server
	cancel     context.CancelFunc
}

func newClient(cfg *types.Config) (*client, error) {
	c := &client{
		cfg:      cfg,
		logger:   logging.GetLogger().Component("client"),
		registry: prometheus.NewRegistry(),
	}

	if err := os.MkdirAll(config.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := openHealthStore(cfg.Health)
	if err != nil {
		return nil, err
	}
	c.store = store

	c.tracker = health.NewTracker(health.NewKVBlockListStore(store),
		health.WithFlagThreshold(cfg.Health.FlagThreshold),
		health.WithLogger(logging.GetLogger().Component("health")),
	)

	c.registry.MustRegister(collectors.NewGoCollector())
	c.pool = pool.New(websocket.NewDialer(websocket.Options{}),
		pool.WithDialTimeout(cfg.Relays.DialTimeout),
		pool.WithWriteTimeout(cfg.Relays.WriteTimeout),
		pool.WithMaxConcurrentDials(cfg.Relays.MaxConcurrentDials),
		pool.WithLogger(logging.GetLogger().Component("pool")),
		pool.WithMetrics(pool.NewMetrics(c.registry)),
	)

	signer, err := loadSigner(cfg.Auth.PrivateKey, c.logger)
	if err != nil {
		store.Cleanup()
		return nil, err
	}
	c.signer = signer

	c.auth = auth.NewHandler(c.pool, signer, auth.WithLogger(logging.GetLogger().Component("auth")))
	c.publisher = publisher.New(c.pool, c.tracker, signer)

	c.pool.AddListener(health.NewListener(c.tracker))
	c.pool.AddListener(c.auth)
	c.pool.AddListener(c.publisher)

	return c, nil
}

// openHealthStore keeps health in memory when no database file is configured
func openHealthStore(cfg types.HealthConfig) (kvp.KeyValueStore, error) {
	if cfg.DBFile == "" {
		return memory.New(), nil
	}
	store, err := kvp_bbolt.InitBuckets(config.GetPath(cfg.DBFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open health store: %w", err)
	}
	return store, nil
}

// loadSigner parses the configured key or generates a session key
func loadSigner(key string, logger *logging.Logger) (*signing.LocalSigner, error) {
	if key != "" {
		signer, err := signing.NewLocalSigner(key)
		if err != nil {
			return nil, fmt.Errorf("invalid auth.private_key: %w", err)
		}
		return signer, nil
	}

	priv, err := signing.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("no private key provided and unable to make one: %w", err)
	}
	signer := signing.NewLocalSignerFromKey(priv)
	if npub, err := signer.Npub(); err == nil {
		logger.Info("Generated session key, set auth.private_key to keep it", map[string]interface{}{"npub": npub})
	}
	return signer, nil
}

func (c *client) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel

	dedup, err := feed.NewDeduper(ctx, c.cfg.Feed.DedupWindow)
	if err != nil {
		c.logger.Warn("Feed de-duplication disabled", map[string]interface{}{"error": err})
	}
	c.dedup = dedup

	opts := []connection.Option{
		connection.WithFeedHandler(printEvent),
		connection.WithLogger(logging.GetLogger().Component("connection")),
	}
	if dedup != nil {
		opts = append(opts, connection.WithDeduper(dedup))
	}
	c.machine = connection.New(c.pool, c.tracker, connection.ConfigFrom(c.cfg.Connection), opts...)
	c.machine.Start(ctx)

	c.watcher = network.NewWatcher(c.machine, network.WithInterval(c.cfg.Connection.NetworkPoll))
	go c.watcher.Run(ctx)

	go c.watchState(ctx)
	go c.watchAuthFailures(ctx)

	config.OnChange(c.applyConfig)

	if c.cfg.Metrics.Enabled {
		c.serveMetrics()
	}
}

// applyConfig takes the settings that can change without a restart
func (c *client) applyConfig(cfg *types.Config) {
	if n := cfg.Health.FlagThreshold; n > 0 && n != c.tracker.FlagThreshold() {
		c.tracker.SetFlagThreshold(n)
		c.logger.Info("Relay flag threshold changed", map[string]interface{}{"flag_threshold": n})
	}
}

func (c *client) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.metricsSrv = &http.Server{
		Addr:              c.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.logger.Info("Serving metrics", map[string]interface{}{"address": c.cfg.Metrics.Address})
		if err := c.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Metrics server stopped", map[string]interface{}{"error": err})
		}
	}()
}

func (c *client) watchState(ctx context.Context) {
	states, cancel := c.machine.State().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			fmt.Println("state:", s.String())
		}
	}
}

func (c *client) watchAuthFailures(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.auth.Failures():
			c.logger.Warn("Relay authentication failed", map[string]interface{}{"error": err})
		}
	}
}

// feedRelays is the relay set used when a command names none
func (c *client) feedRelays() []string {
	if active := c.machine.ActiveFeed().Get(); active != nil {
		return active.Relays
	}
	return c.cfg.Relays.Default
}

func (c *client) shutdown() {
	if c.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if c.machine != nil {
		c.machine.Close()
	}
	c.pool.Close()
	c.auth.Wait()
	if c.cancel != nil {
		c.cancel()
	}
	if c.dedup != nil {
		c.dedup.Close()
	}
	if err := c.store.Cleanup(); err != nil {
		c.logger.Error("Failed to close health store", map[string]interface{}{"error": err})
	}
}

func printEvent(relay string, ev *nostr.Event) {
	author := ev.PubKey
	if len(author) > 8 {
		author = author[:8]
	}
	fmt.Printf("[%s] %s %s: %s\n", relay, ev.CreatedAt.Time().Format(time.Kitchen), author, ev.Content)
}
