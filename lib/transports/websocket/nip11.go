package websocket

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

// NIP11RelayInfo is the relay information document served at the relay url
type NIP11RelayInfo struct {
	Name          string           `json:"name,omitempty"`
	Description   string           `json:"description,omitempty"`
	Pubkey        string           `json:"pubkey,omitempty"`
	Contact       string           `json:"contact,omitempty"`
	Icon          string           `json:"icon,omitempty"`
	SupportedNIPs []int            `json:"supported_nips,omitempty"`
	Software      string           `json:"software,omitempty"`
	Version       string           `json:"version,omitempty"`
	Limitation    *RelayLimitation `json:"limitation,omitempty"`
}

type RelayLimitation struct {
	MaxMessageLength int  `json:"max_message_length,omitempty"`
	MaxSubscriptions int  `json:"max_subscriptions,omitempty"`
	MaxLimit         int  `json:"max_limit,omitempty"`
	AuthRequired     bool `json:"auth_required,omitempty"`
	PaymentRequired  bool `json:"payment_required,omitempty"`
}

// SupportsNIP reports whether nip is listed in supported_nips
func (i *NIP11RelayInfo) SupportsNIP(nip int) bool {
	for _, n := range i.SupportedNIPs {
		if n == nip {
			return true
		}
	}
	return false
}

// InfoURL maps a ws(s) relay url to the http(s) url serving its NIP-11 document
func InfoURL(relayURL string) string {
	switch {
	case strings.HasPrefix(relayURL, "wss://"):
		return "https://" + strings.TrimPrefix(relayURL, "wss://")
	case strings.HasPrefix(relayURL, "ws://"):
		return "http://" + strings.TrimPrefix(relayURL, "ws://")
	default:
		return relayURL
	}
}

// FetchRelayInfo retrieves the NIP-11 document of relayURL
func FetchRelayInfo(relayURL string, timeout time.Duration) (*NIP11RelayInfo, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(InfoURL(relayURL))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/nostr+json")

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("failed to fetch relay info: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("relay info request returned status %d", resp.StatusCode())
	}

	var info NIP11RelayInfo
	if err := jsoniter.Unmarshal(resp.Body(), &info); err != nil {
		return nil, fmt.Errorf("failed to decode relay info: %w", err)
	}
	return &info, nil
}
