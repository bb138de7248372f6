// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Modules = 2
	cfg.Slots = map[int]int{0: 2, 1: 3}
	return cfg
}

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	cfg := validConfig()
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Modules, loaded.Modules)
	require.Equal(t, cfg.Slots, loaded.Slots)
	require.Equal(t, cfg.Output.Prefix, loaded.Output.Prefix)
	require.Equal(t, cfg.Broadcast.Port, loaded.Broadcast.Port)
}

func TestSave_WritesOwnerGroupOnlyPermissions(t *testing.T) {
	cfg := validConfig()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestValidate_RejectsNonPositiveModules(t *testing.T) {
	cfg := validConfig()
	cfg.Modules = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsChannelsOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Channels = 17
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsFIFOMinAtOrAboveMax(t *testing.T) {
	cfg := validConfig()
	cfg.FIFOMin = cfg.FIFOMax
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeSlotModule(t *testing.T) {
	cfg := validConfig()
	cfg.Slots = map[int]int{5: 2}
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Output.Prefix = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadBroadcastPort(t *testing.T) {
	cfg := validConfig()
	cfg.Broadcast.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_RejectsInvalidConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules: 0\n"), 0640))
	_, err := LoadConfig(path)
	require.Error(t, err)
}
