package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBroker struct {
	Broker
	name string
}

func (s *stubBroker) Name() string { return s.name }

func init() {
	Register(Info{
		ID:           "stub",
		Name:         "Stub Venue",
		AssetClasses: []AssetClass{AssetCrypto},
		Capabilities: Capabilities{CryptoLeverage: true, MaxCryptoLeverage: 10},
		PaperTrading: true,
	}, func(creds Credentials) (Broker, error) {
		return &stubBroker{name: "stub"}, nil
	})
}

func TestFactoryNew(t *testing.T) {
	b, err := New("stub", Credentials{Key: "k", Secret: "s"})
	require.NoError(t, err)
	assert.Equal(t, "stub", b.Name())

	// Lookup is case and whitespace insensitive.
	b, err = New("  Stub ", Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "stub", b.Name())
}

func TestFactoryUnknownBroker(t *testing.T) {
	_, err := New("robinhood", Credentials{})
	require.Error(t, err)

	var unknown *UnknownBrokerError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "robinhood", unknown.ID)
	assert.Contains(t, err.Error(), "valid brokers")
	assert.Contains(t, err.Error(), "stub")
}

func TestFactoryInfos(t *testing.T) {
	info, ok := Lookup("stub")
	require.True(t, ok)
	assert.Equal(t, "Stub Venue", info.Name)
	assert.True(t, info.Capabilities.CryptoLeverage)

	all := Infos()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID, "Infos must be sorted by id")
	}
}
