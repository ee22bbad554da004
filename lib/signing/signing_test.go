package signing

import (
	"context"
	"errors"
	"testing"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

func TestParsePrivateKeyFormats(t *testing.T) {
	privateKey, err := GeneratePrivateKey()
	require.NoError(t, err)

	nsec, err := SerializePrivateKey(privateKey)
	require.NoError(t, err)

	fromNsec, err := NewLocalSigner(nsec)
	require.NoError(t, err)

	hexKey := gonostr.GeneratePrivateKey()
	fromHex, err := NewLocalSigner(hexKey)
	require.NoError(t, err)

	expected, err := gonostr.GetPublicKey(hexKey)
	require.NoError(t, err)
	pk, err := fromHex.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expected, pk)

	pkNsec, _ := fromNsec.PublicKey(context.Background())
	assert.Len(t, pkNsec, 64)

	npub, err := fromNsec.Npub()
	require.NoError(t, err)
	hrp, raw, err := DecodeKey(npub)
	require.NoError(t, err)
	assert.Equal(t, "npub", hrp)
	assert.Len(t, raw, 32)
}

func TestParsePrivateKeyErrors(t *testing.T) {
	tests := []string{
		"",
		"not-hex",
		"abcd",
		"nsec1invalid",
	}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := NewLocalSigner(key)
			assert.Error(t, err)
		})
	}
}

func TestSignProducesValidEvent(t *testing.T) {
	signer, err := NewLocalSigner(gonostr.GeneratePrivateKey())
	require.NoError(t, err)

	ev, err := signer.Sign(context.Background(), nostr.AuthTemplate("wss://r1", "abc"))
	require.NoError(t, err)

	assert.Equal(t, nostr.KindClientAuth, ev.Kind)
	require.NoError(t, nostr.Validate(ev))
}

func TestSignCancelled(t *testing.T) {
	signer, err := NewLocalSigner(gonostr.GeneratePrivateKey())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = signer.Sign(ctx, nostr.EventTemplate{Kind: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, nostr.ErrCannotSign)
	assert.ErrorIs(t, err, context.Canceled)

	var signErr *Error
	require.True(t, errors.As(err, &signErr))
	assert.Equal(t, "cancelled", signErr.Reason)
}

func TestDeserializePublicKey(t *testing.T) {
	privateKey, err := GeneratePrivateKey()
	require.NoError(t, err)
	want := PublicKeyHex(privateKey.PubKey())

	npub, err := SerializePublicKey(privateKey.PubKey())
	require.NoError(t, err)
	nsec, err := SerializePrivateKey(privateKey)
	require.NoError(t, err)

	for _, input := range []string{npub, want, " " + want + " "} {
		publicKey, err := DeserializePublicKey(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, PublicKeyHex(publicKey))
	}

	for _, input := range []string{"", "abcd", "zz", nsec, "npub1qqqq"} {
		_, err := DeserializePublicKey(input)
		assert.Error(t, err, input)
	}
}
