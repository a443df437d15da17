package audiomgr

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antorsae/ecasound/internal/config"
)

func baseConfig(dir string) *config.ChainsetupConfig {
	return &config.ChainsetupConfig{
		Engine: config.EngineConfig{BufferSize: 512, SampleRate: 48000, Prefill: "auto"},
		Inputs: []config.ObjectConfig{
			{Name: "in", Type: "wavfile", Path: filepath.Join(dir, "in.wav"), Channels: 1, SampleRate: 48000, BitDepth: 16},
		},
		Outputs: []config.ObjectConfig{
			{Name: "out", Type: "wavfile", Path: filepath.Join(dir, "out.wav"), Channels: 1, SampleRate: 48000, BitDepth: 16},
		},
		Chains: []config.ChainConfig{
			{Name: "main", Input: "in", Output: "out"},
		},
	}
}

func TestNewBuildsEngineFromConfig(t *testing.T) {
	t.Parallel()

	m, err := New(baseConfig(t.TempDir()), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, m.Engine())
	assert.Nil(t, m.mqtt)
}

func TestNewRejectsUnknownChainInput(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t.TempDir())
	cfg.Chains[0].Input = "does-not-exist"

	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNewRejectsUnknownChainOutput(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t.TempDir())
	cfg.Chains[0].Output = "does-not-exist"

	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNewRejectsUnknownObjectType(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t.TempDir())
	cfg.Inputs[0].Type = "not-a-real-backend"

	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNewWiresMetricsWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t.TempDir())
	cfg.Metrics.Enabled = true
	cfg.Metrics.PrefillBlocks = 4
	registry := prometheus.NewRegistry()

	m, err := New(cfg, registry, nil)
	require.NoError(t, err)
	require.NotNil(t, m.Engine())

	assert.Positive(t, testutil.CollectAndCount(registry))
}

func TestNewProxiesNetworkBackedOutputs(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t.TempDir())
	cfg.Outputs = append(cfg.Outputs, config.ObjectConfig{
		Name: "archive", Type: "ftpfile",
		Host: "ftp.example.invalid", Port: 21,
		RemotePath: "/incoming", RemoteName: "take.wav",
		Channels: 1, SampleRate: 48000, BitDepth: 16,
	})

	m, err := New(cfg, nil, nil)
	require.NoError(t, err)
	assert.True(t, m.Engine().HasProxyServer())
}

func TestNewLeavesProxyServerUnsetWithoutNetworkBackends(t *testing.T) {
	t.Parallel()

	m, err := New(baseConfig(t.TempDir()), nil, nil)
	require.NoError(t, err)
	assert.False(t, m.Engine().HasProxyServer())
}

func TestNewWiresMQTTWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t.TempDir())
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.Topic = "ecasound/cmd"

	m, err := New(cfg, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, m.mqtt)
}
