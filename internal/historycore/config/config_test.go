package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFlagsPopulatesDefaults(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	cfg := Flags(cmd, v)

	require.NoError(t, cmd.ParseFlags([]string{}))

	// history-archive-url and network-passphrase have no default, so
	// Load's call to Validate rejects an otherwise-empty config, after Load
	// has already copied the flag defaults into cfg.
	require.Error(t, Load(v, cfg))
	require.Equal(t, "localhost:8000", cfg.Endpoint)
	require.Equal(t, "historycore.sqlite", cfg.DBPath)
	require.Error(t, cfg.Validate())
}

func TestLoadResolvesFlagsIntoConfig(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	cfg := Flags(cmd, v)

	require.NoError(t, cmd.ParseFlags([]string{
		"--history-archive-url", "https://history.example.com",
		"--network-passphrase", "Test Network ; July 2026",
		"--accelerate-time-for-testing",
	}))

	require.NoError(t, Load(v, cfg))
	require.Equal(t, "https://history.example.com", cfg.HistoryArchiveURL)
	require.Equal(t, "Test Network ; July 2026", cfg.NetworkPassphrase)
	require.True(t, cfg.Accelerate)
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesTomlFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "historycore.toml")
	require.NoError(t, WriteDefault(path, Default()))

	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	cfg := Flags(cmd, v)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config-path", path,
		"--history-archive-url", "https://history.example.com",
		"--network-passphrase", "Test Network ; July 2026",
	}))

	require.NoError(t, Load(v, cfg))
	require.Equal(t, "localhost:8000", cfg.Endpoint)
	require.Equal(t, "historycore.sqlite", cfg.DBPath)
	require.Equal(t, uint64(5), cfg.PublishRetries)
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg := Default()
	cfg.HistoryArchiveURL = "https://history.example.com"
	cfg.NetworkPassphrase = "Test Network ; July 2026"
	cfg.LogFormat = "xml"
	require.Error(t, cfg.Validate())
}
