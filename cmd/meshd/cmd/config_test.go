package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SaemsCodes/offline-radio-sub000/engine"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshd.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, uint64(types.DefaultAnnounceIntervalMs), cfg.AnnounceIntervalMs)
	require.Equal(t, uint8(1), cfg.InitialChannel)
	require.Len(t, cfg.TransportsEnabled, 4, "Normalize defaults to every transport when unset")
}

func TestLoadConfigParsesSection(t *testing.T) {
	path := writeConfig(t, `
[mesh]
display_name = basecamp
initial_channel = 7
max_hops = 3
transports = DirectLan, LocalBus
capabilities = voice, Emergency
relay_addr = relay.example.com:9000
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "basecamp", cfg.DisplayName)
	require.Equal(t, uint8(7), cfg.InitialChannel)
	require.Equal(t, uint8(3), cfg.MaxHops)
	require.Equal(t, "relay.example.com:9000", cfg.RelayAddr)
	require.Equal(t, []engine.TransportName{engine.TransportNameDirectLan, engine.TransportNameLocalBus}, cfg.TransportsEnabled)
	require.True(t, cfg.Capabilities.Has(types.CapVoice))
	require.True(t, cfg.Capabilities.Has(types.CapEmergency))
	require.False(t, cfg.Capabilities.Has(types.CapText))
}

func TestLoadConfigClampsMaxHops(t *testing.T) {
	path := writeConfig(t, `
[mesh]
max_hops = 99
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint8(types.MaxMaxHops), cfg.MaxHops)
}
