package nostr

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	gonostr "github.com/nbd-wtf/go-nostr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedFrame is returned for frames that are not a known NIP-01 message
var ErrMalformedFrame = errors.New("malformed relay frame")

type (
	Envelope       = gonostr.Envelope
	EventEnvelope  = gonostr.EventEnvelope
	ReqEnvelope    = gonostr.ReqEnvelope
	CloseEnvelope  = gonostr.CloseEnvelope
	ClosedEnvelope = gonostr.ClosedEnvelope
	EOSEEnvelope   = gonostr.EOSEEnvelope
	NoticeEnvelope = gonostr.NoticeEnvelope
	OKEnvelope     = gonostr.OKEnvelope
	AuthEnvelope   = gonostr.AuthEnvelope
)

// ParseFrame decodes one inbound relay message
func ParseFrame(raw []byte) (Envelope, error) {
	env := gonostr.ParseMessage(raw)
	if env == nil {
		return nil, ErrMalformedFrame
	}
	return env, nil
}

// EncodeReq builds ["REQ", id, filters...]
func EncodeReq(id string, filters Filters) ([]byte, error) {
	return encode(&ReqEnvelope{SubscriptionID: id, Filters: filters})
}

// EncodeClose builds ["CLOSE", id]
func EncodeClose(id string) ([]byte, error) {
	env := CloseEnvelope(id)
	return encode(&env)
}

// EncodeEvent builds ["EVENT", event]
func EncodeEvent(ev *Event) ([]byte, error) {
	return encode(&EventEnvelope{Event: *ev})
}

// EncodeAuth builds ["AUTH", signedEvent]
func EncodeAuth(ev *Event) ([]byte, error) {
	return encode(&AuthEnvelope{Event: *ev})
}

func encode(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", env.Label(), err)
	}
	return raw, nil
}
