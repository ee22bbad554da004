// Package nostr is the event and filter model shared by the relay client.
// Types alias go-nostr so the wire codec and matching logic come from there.
package nostr

import (
	"context"
	"errors"
	"fmt"

	gonostr "github.com/nbd-wtf/go-nostr"
)

type (
	Event     = gonostr.Event
	Filter    = gonostr.Filter
	Filters   = gonostr.Filters
	Tag       = gonostr.Tag
	Tags      = gonostr.Tags
	TagMap    = gonostr.TagMap
	Timestamp = gonostr.Timestamp
)

const (
	KindTextNote = 1
	// KindClientAuth is the NIP-42 authentication event kind
	KindClientAuth = 22242
)

var (
	// ErrCannotSign is the condition behind every signing failure
	ErrCannotSign = errors.New("cannot sign event")
	// ErrInvalidID means the event id does not hash the serialized event
	ErrInvalidID = errors.New("event id does not match content")
	// ErrInvalidSignature means the schnorr signature does not verify
	ErrInvalidSignature = errors.New("event signature is invalid")
)

// Now returns the current unix timestamp
func Now() Timestamp {
	return gonostr.Now()
}

// EventTemplate is an unsigned draft handed to a Signer
type EventTemplate struct {
	CreatedAt Timestamp
	Kind      int
	Tags      Tags
	Content   string
}

// ToEvent builds the unsigned event for pubkey. A zero CreatedAt becomes now.
func (t EventTemplate) ToEvent(pubkey string) Event {
	createdAt := t.CreatedAt
	if createdAt == 0 {
		createdAt = Now()
	}
	tags := t.Tags
	if tags == nil {
		tags = Tags{}
	}
	return Event{
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      t.Kind,
		Tags:      tags,
		Content:   t.Content,
	}
}

// Signer turns templates into signed events. Implementations may block on
// external apps or hardware and must return an error wrapping ErrCannotSign
// when no signature is produced.
type Signer interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, tmpl EventTemplate) (*Event, error)
}

// Validate checks the id hash and the signature of ev
func Validate(ev *Event) error {
	if ev == nil {
		return fmt.Errorf("nil event: %w", ErrInvalidID)
	}
	if ev.GetID() != ev.ID {
		return ErrInvalidID
	}
	ok, err := ev.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// AuthTemplate builds the NIP-42 response template for relay and challenge
func AuthTemplate(relay, challenge string) EventTemplate {
	return EventTemplate{
		CreatedAt: Now(),
		Kind:      KindClientAuth,
		Tags: Tags{
			Tag{"relay", relay},
			Tag{"challenge", challenge},
		},
		Content: "",
	}
}
