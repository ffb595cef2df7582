package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_Defaults(t *testing.T) {
	c, err := Read("")
	require.NoError(t, err)

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 16*time.Millisecond, c.GameSpeed)
	assert.Equal(t, 30*time.Second, c.AwaitingConnectionTimeout)
	assert.Equal(t, uint32(2), c.NetworkCycleBufferMin)
	assert.Equal(t, uint32(60), c.NetworkCycleBufferMax)
	assert.Equal(t, 6, c.MaxPlayers)
	assert.Equal(t, 28748, c.LanPort)
	assert.True(t, c.LanAnnounce)
}

func TestRead_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")
	body := `{
		"playerName": "alice",
		"gameSpeed": "20ms",
		"networkCycleBufferMax": 30,
		"metaServerURL": "http://meta.example/"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	c, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.PlayerName)
	assert.Equal(t, 20*time.Millisecond, c.GameSpeed)
	assert.Equal(t, uint32(30), c.NetworkCycleBufferMax)
	assert.Equal(t, "http://meta.example/", c.MetaServerURL)
	assert.Equal(t, "info", c.LogLevel)
}

func TestRead_Env(t *testing.T) {
	t.Setenv("DUNELOCKSTEP_PLAYERNAME", "bob")
	c, err := Read("")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.PlayerName)
}

func TestRead_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"networkCycleBufferMin": 90}`), 0644))

	_, err := Read(path)
	assert.Error(t, err)

	_, err = Read(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(in, []byte(`{"playerName": "carol"}`), 0644))

	require.NoError(t, Load(in))
	assert.Equal(t, "carol", Cfg.PlayerName)

	out := filepath.Join(dir, "out.yaml")
	require.NoError(t, Save(in, out))
	c, err := Read(out)
	require.NoError(t, err)
	assert.Equal(t, "carol", c.PlayerName)
	assert.Equal(t, Cfg.GameSpeed, c.GameSpeed)
}
