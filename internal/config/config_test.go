package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  tick_rate: 30
world:
  width: 2000
  protected_dungeon_ids: [100, 200]
lua:
  instruction_limit: 50000
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Server.TickRate)
	assert.Equal(t, int32(2000), cfg.World.Width)
	assert.Equal(t, int32(500), cfg.World.Height, "высота берётся по умолчанию")
	assert.Equal(t, []uint16{100, 200}, cfg.World.ProtectedDungeonIDs)
	assert.Equal(t, 50000, cfg.Lua.InstructionLimit)
	assert.Equal(t, 1000, cfg.Lua.MeasureInterval)
	assert.True(t, cfg.Lua.IsSafe())
	assert.Equal(t, "memory", cfg.Auth.Backend)
}

func TestLoadRejectsUnknownAuthBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  backend: ldap\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateBackends(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "memory", cfg.Storage.Positions)
	assert.Equal(t, float64(1), cfg.Telemetry.SampleRatio)

	cfg.Cache.Backend = "redis"
	assert.Error(t, cfg.Validate(), "redis без адреса")
	cfg.Cache.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Positions = "maria"
	assert.Error(t, cfg.Validate(), "maria без DSN")
	cfg.Storage.Positions = "redis"
	assert.NoError(t, cfg.Validate(), "позиции используют адрес Redis каталога")

	cfg.Cache.Backend = "memcached"
	assert.Error(t, cfg.Validate())
}

func TestPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("TILEVERSE_KCP_PORT", "30000")
	assert.Equal(t, 30000, s.GetKCPPort())

	s.KCPPort = 4000
	assert.Equal(t, 4000, s.GetKCPPort(), "значение из конфига имеет приоритет")
	assert.Equal(t, 8088, s.GetRESTPort())
}

func TestRuntimeConfigBounds(t *testing.T) {
	rc := NewRuntimeConfig("", Default().Lua)

	assert.ErrorIs(t, rc.SetInstructionLimit(10), ErrOutOfRange)
	assert.ErrorIs(t, rc.SetRecursionLimit(0), ErrOutOfRange)
	assert.ErrorIs(t, rc.SetAutoGCPause(100), ErrOutOfRange)
	assert.Equal(t, 10000000, rc.Values().InstructionLimit, "неудачный сеттер не меняет значения")

	var seen RuntimeValues
	rc.Subscribe(func(v RuntimeValues) { seen = v })
	require.NoError(t, rc.SetInstructionLimit(20000))
	assert.Equal(t, 20000, seen.InstructionLimit)
}

func TestRuntimeConfigSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.json")
	rc := NewRuntimeConfig(path, Default().Lua)
	require.NoError(t, rc.SetMeasureInterval(250))
	require.NoError(t, rc.SetProfiling(true))
	require.NoError(t, rc.Save())

	loaded, err := LoadRuntimeConfig(path, Default().Lua)
	require.NoError(t, err)
	assert.Equal(t, 250, loaded.Values().MeasureInterval)
	assert.True(t, loaded.Values().Profiling)

	require.NoError(t, os.WriteFile(path, []byte(`{"recursionLimit": 99999}`), 0644))
	_, err = LoadRuntimeConfig(path, Default().Lua)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
