// Package publisher signs events, sends them through the pool and tracks relay OKs.
package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
	"github.com/HORNET-Storage/hornet-relay-client/lib/signing"
)

var (
	ErrNoRelays = errors.New("no relays to publish to")
	errNoSigner = errors.New("no signer configured")
)

// defaultTrack bounds how many published ids keep OK results
const defaultTrack = 256

type Sender interface {
	Send(ev *nostr.Event, relays []string) error
}

type BlockFilter interface {
	FilterBlocked(urls []string) []string
}

// Result is one relay's answer to a published event
type Result struct {
	Relay    string
	Accepted bool
	Message  string
	At       time.Time
}

// Publisher is a pool listener so it can collect OK frames
type Publisher struct {
	pool.BaseListener

	sender Sender
	blocks BlockFilter
	logger *logging.Logger

	mu      sync.Mutex
	signer  nostr.Signer
	results map[string]map[string]Result
	order   []string
	limit   int
}

func New(sender Sender, blocks BlockFilter, signer nostr.Signer) *Publisher {
	return &Publisher{
		sender:  sender,
		blocks:  blocks,
		signer:  signer,
		results: make(map[string]map[string]Result),
		limit:   defaultTrack,
		logger:  logging.GetLogger().Component("publisher"),
	}
}

func (p *Publisher) SetSigner(signer nostr.Signer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signer = signer
}

// Publish signs tmpl and sends it to the non-blocked relays.
// Signing failures are returned as *signing.Error.
func (p *Publisher) Publish(ctx context.Context, tmpl nostr.EventTemplate, relays []string) (*nostr.Event, error) {
	p.mu.Lock()
	signer := p.signer
	p.mu.Unlock()

	if signer == nil {
		return nil, signing.NewError("publish", errNoSigner)
	}

	ev, err := signer.Sign(ctx, tmpl)
	if err == nil && ev == nil {
		err = errors.New("signer returned no event")
	}
	if err != nil {
		var signErr *signing.Error
		if errors.As(err, &signErr) {
			return nil, signErr
		}
		return nil, signing.NewError("publish", err)
	}

	if err := p.PublishSigned(ev, relays); err != nil {
		return ev, err
	}
	return ev, nil
}

// PublishSigned sends an already signed event
func (p *Publisher) PublishSigned(ev *nostr.Event, relays []string) error {
	targets := nostr.NormalizeURLs(relays)
	if p.blocks != nil {
		targets = p.blocks.FilterBlocked(targets)
	}
	if len(targets) == 0 {
		return ErrNoRelays
	}

	p.track(ev.ID)
	if err := p.sender.Send(ev, targets); err != nil {
		return err
	}

	p.logger.Info("Published event", map[string]interface{}{
		"id":     ev.ID,
		"kind":   ev.Kind,
		"relays": len(targets),
	})
	return nil
}

func (p *Publisher) track(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.results[id]; ok {
		return
	}
	p.results[id] = make(map[string]Result)
	p.order = append(p.order, id)

	for len(p.order) > p.limit {
		delete(p.results, p.order[0])
		p.order = p.order[1:]
	}
}

func (p *Publisher) OnOk(relay, eventID string, success bool, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	results, ok := p.results[eventID]
	if !ok {
		return
	}
	results[nostr.NormalizeURL(relay)] = Result{
		Relay:    nostr.NormalizeURL(relay),
		Accepted: success,
		Message:  message,
		At:       time.Now(),
	}
}

// Results returns a copy of the OKs received for eventID, keyed by relay
func (p *Publisher) Results(eventID string) map[string]Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Result, len(p.results[eventID]))
	for relay, r := range p.results[eventID] {
		out[relay] = r
	}
	return out
}
