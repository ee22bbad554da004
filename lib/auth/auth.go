// Package auth answers NIP-42 relay challenges and tracks per-relay auth status.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/observable"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
	"github.com/HORNET-Storage/hornet-relay-client/lib/signing"
)

type Status int

const (
	StatusNone Status = iota
	StatusChallenged
	StatusAuthenticating
	StatusAuthenticated
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusChallenged:
		return "challenged"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var errNoSigner = errors.New("no signer configured")

const (
	defaultSignTimeout = 30 * time.Second
	failureBuffer      = 16
)

// Sender is the part of the relay pool the handshake writes through
type Sender interface {
	SendToRelay(url string, raw []byte) error
	RenewFilters(url string)
}

// Handler is a pool listener running one handshake per relay
type Handler struct {
	pool.BaseListener

	sender Sender

	signerMu sync.RWMutex
	signer   nostr.Signer

	// responded holds url+"\x00"+challenge for challenges already answered
	responded *xsync.MapOf[string, struct{}]
	// pending holds the id of the AUTH event awaiting OK, per relay
	pending  *xsync.MapOf[string, string]
	statuses *observable.Value[map[string]Status]
	failures chan error

	signTimeout time.Duration
	logger      *logging.Logger
	inflight    sync.WaitGroup
}

type Option func(*Handler)

func WithSignTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.signTimeout = d
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(sender Sender, signer nostr.Signer, opts ...Option) *Handler {
	h := &Handler{
		sender:      sender,
		signer:      signer,
		responded:   xsync.NewMapOf[string, struct{}](),
		pending:     xsync.NewMapOf[string, string](),
		statuses:    observable.NewValue(map[string]Status{}),
		failures:    make(chan error, failureBuffer),
		signTimeout: defaultSignTimeout,
		logger:      logging.GetLogger().Component("auth"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func dedupKey(url, challenge string) string {
	return url + "\x00" + challenge
}

// SetSigner swaps the identity and forgets every in-flight handshake
func (h *Handler) SetSigner(signer nostr.Signer) {
	h.signerMu.Lock()
	h.signer = signer
	h.signerMu.Unlock()

	h.responded.Range(func(key string, _ struct{}) bool {
		h.responded.Delete(key)
		return true
	})
	h.pending.Range(func(url string, _ string) bool {
		h.pending.Delete(url)
		return true
	})
	h.statuses.Set(map[string]Status{})
}

func (h *Handler) currentSigner() nostr.Signer {
	h.signerMu.RLock()
	defer h.signerMu.RUnlock()
	return h.signer
}

// Statuses is the observable per-relay auth status map
func (h *Handler) Statuses() *observable.Value[map[string]Status] {
	return h.statuses
}

func (h *Handler) Status(url string) Status {
	return h.statuses.Get()[nostr.NormalizeURL(url)]
}

// Failures delivers signing failures; each wraps nostr.ErrCannotSign
func (h *Handler) Failures() <-chan error {
	return h.failures
}

// Wait blocks until every signing goroutine started so far has finished
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) setStatus(url string, s Status) {
	h.statuses.Update(func(current map[string]Status) map[string]Status {
		next := make(map[string]Status, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		if s == StatusNone {
			delete(next, url)
		} else {
			next[url] = s
		}
		return next
	})
}

func (h *Handler) reportFailure(err error) {
	select {
	case h.failures <- err:
	default:
		h.logger.Warn("Dropping auth failure, nobody is reading", map[string]interface{}{"error": err})
	}
}

func (h *Handler) OnAuth(relay, challenge string) {
	url := nostr.NormalizeURL(relay)
	if url == "" {
		return
	}

	signer := h.currentSigner()
	if signer == nil {
		h.setStatus(url, StatusFailed)
		h.logger.Warn("Relay requested auth but no signer is configured", map[string]interface{}{"relay": url})
		h.reportFailure(signing.NewError("auth on "+url, errNoSigner))
		return
	}

	key := dedupKey(url, challenge)
	if _, loaded := h.responded.LoadOrStore(key, struct{}{}); loaded {
		h.logger.Debug("Ignoring repeated auth challenge", map[string]interface{}{"relay": url})
		return
	}

	h.setStatus(url, StatusChallenged)
	h.setStatus(url, StatusAuthenticating)

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		h.respond(signer, url, challenge, key)
	}()
}

func (h *Handler) respond(signer nostr.Signer, url, challenge, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.signTimeout)
	ev, err := signer.Sign(ctx, nostr.AuthTemplate(url, challenge))
	cancel()

	// Reset or signer swapped while signing
	if _, ok := h.responded.Load(key); !ok {
		return
	}

	if err == nil && ev == nil {
		err = errors.New("signer returned no event")
	}
	if err != nil {
		h.responded.Delete(key)
		h.setStatus(url, StatusFailed)
		h.logger.Warn("Failed to sign auth challenge", map[string]interface{}{"relay": url, "error": err})

		var signErr *signing.Error
		if !errors.As(err, &signErr) {
			signErr = signing.NewError("auth on "+url, err)
		}
		h.reportFailure(signErr)
		return
	}

	raw, err := nostr.EncodeAuth(ev)
	if err != nil {
		h.responded.Delete(key)
		h.setStatus(url, StatusFailed)
		h.logger.Error("Failed to encode AUTH", map[string]interface{}{"relay": url, "error": err})
		return
	}

	h.pending.Store(url, ev.ID)
	if err := h.sender.SendToRelay(url, raw); err != nil {
		h.pending.Delete(url)
		h.responded.Delete(key)
		h.setStatus(url, StatusFailed)
		h.logger.Warn("Failed to send AUTH", map[string]interface{}{"relay": url, "error": err})
	}
}

func (h *Handler) OnOk(relay, eventID string, success bool, message string) {
	url := nostr.NormalizeURL(relay)

	pendingID, ok := h.pending.Load(url)
	if !ok || pendingID != eventID {
		return
	}
	h.pending.Delete(url)

	if success {
		h.setStatus(url, StatusAuthenticated)
		h.logger.Info("Authenticated with relay", map[string]interface{}{"relay": url})
		h.sender.RenewFilters(url)
		return
	}

	h.setStatus(url, StatusFailed)
	h.logger.Warn("Relay rejected auth", map[string]interface{}{"relay": url, "reason": message})
}

func (h *Handler) OnConnecting(relay string) {
	h.reset(nostr.NormalizeURL(relay))
}

func (h *Handler) OnDisconnected(relay string) {
	h.reset(nostr.NormalizeURL(relay))
}

func (h *Handler) reset(url string) {
	prefix := url + "\x00"
	h.responded.Range(func(key string, _ struct{}) bool {
		if strings.HasPrefix(key, prefix) {
			h.responded.Delete(key)
		}
		return true
	})
	h.pending.Delete(url)
	if _, ok := h.statuses.Get()[url]; ok {
		h.setStatus(url, StatusNone)
	}
}
