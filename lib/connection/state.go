package connection

import (
	"time"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/types"
)

// State is the global connection state. One of Disconnected, Connecting,
// Connected, Subscribed or ConnectFailed.
type State interface {
	isState()
	String() string
}

type Disconnected struct{}
type Connecting struct{}
type Connected struct{}
type Subscribed struct{}

// ConnectFailed carries the last relay error
type ConnectFailed struct {
	Reason string
}

func (Disconnected) isState()  {}
func (Connecting) isState()    {}
func (Connected) isState()     {}
func (Subscribed) isState()    {}
func (ConnectFailed) isState() {}

func (Disconnected) String() string    { return "disconnected" }
func (Connecting) String() string      { return "connecting" }
func (Connected) String() string       { return "connected" }
func (Subscribed) String() string      { return "subscribed" }
func (s ConnectFailed) String() string { return "connect failed: " + s.Reason }

// Feed describes the active main subscription
type Feed struct {
	SubscriptionID string
	Relays         []string
	Filters        nostr.Filters
}

// Config holds the machine timings
type Config struct {
	GracePeriod       time.Duration
	FirstRetryDelay   time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
	KeepaliveInterval time.Duration
	StaleAfter        time.Duration
	NetworkDebounce   time.Duration
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:       500 * time.Millisecond,
		FirstRetryDelay:   2 * time.Second,
		RetryDelay:        5 * time.Second,
		MaxRetries:        3,
		KeepaliveInterval: 90 * time.Second,
		StaleAfter:        180 * time.Second,
		NetworkDebounce:   3 * time.Second,
	}
}

// ConfigFrom fills zero values of the loaded configuration with defaults
func ConfigFrom(c types.ConnectionConfig) Config {
	cfg := DefaultConfig()
	if c.GracePeriod > 0 {
		cfg.GracePeriod = c.GracePeriod
	}
	if c.FirstRetryDelay > 0 {
		cfg.FirstRetryDelay = c.FirstRetryDelay
	}
	if c.RetryDelay > 0 {
		cfg.RetryDelay = c.RetryDelay
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.KeepaliveInterval > 0 {
		cfg.KeepaliveInterval = c.KeepaliveInterval
	}
	if c.StaleAfter > 0 {
		cfg.StaleAfter = c.StaleAfter
	}
	if c.NetworkDebounce > 0 {
		cfg.NetworkDebounce = c.NetworkDebounce
	}
	return cfg
}
