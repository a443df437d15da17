// Package config loads a ChainsetupConfig — the on-disk description of
// the audio graph internal/audiomgr turns into a live
// audioio.Chainsetup — from YAML/TOML/JSON via github.com/spf13/viper.
package config

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

//go:embed chainsetup.yaml
var defaultConfigFS embed.FS

// ObjectConfig describes one audio object: its backend and the fields
// needed to construct it. Fields not relevant to Type are ignored.
type ObjectConfig struct {
	Name       string // used to reference this object from a ChainConfig
	Type       string // wavfile | flacfile | ftpfile | sftpfile | soundcard
	Path       string // wavfile/flacfile: file path
	Channels   int
	SampleRate int
	BitDepth   int

	// soundcard
	Device       string
	BufferFrames int

	// ftpfile / sftpfile
	Host       string
	Port       int
	Username   string
	Password   string
	KeyPEMPath string // sftpfile: path to a PEM private key file
	RemotePath string
	RemoteName string
	TimeoutSec int
}

// ChainConfig names one chain and the input/output object names it binds.
type ChainConfig struct {
	Name   string
	Input  string // ObjectConfig.Name, empty if disconnected
	Output string // ObjectConfig.Name, empty if disconnected
}

// EngineConfig mirrors the Chainsetup fields the engine reads at
// prepare/run time.
type EngineConfig struct {
	BufferSize      int
	SampleRate      int
	Looping         bool
	TotalLength     int
	Multitrack      bool
	Prefill         string // auto | none | fixed
	FixedPrefill    int
	PriorityRequest int
}

// MetricsConfig controls the Prometheus profiling dump.
type MetricsConfig struct {
	Enabled       bool
	Listen        string
	PrefillBlocks int
}

// MQTTConfig addresses the broker for the additional command transport
// (internal/mqttctl).
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// ChainsetupConfig is the root of the on-disk configuration.
type ChainsetupConfig struct {
	Engine  EngineConfig
	Inputs  []ObjectConfig
	Outputs []ObjectConfig
	Chains  []ChainConfig
	Metrics MetricsConfig
	MQTT    MQTTConfig
}

// Load reads a ChainsetupConfig from path (any format viper supports: yaml,
// toml, json). If path is empty, the default search paths are tried and,
// failing that, the embedded default is used.
func Load(path string) (*ChainsetupConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("chainsetup")
		v.SetConfigType("yaml")
		for _, p := range defaultConfigPaths() {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			v.SetConfigType("yaml")
			if err := v.ReadConfig(bytes.NewReader(mustReadDefault())); err != nil {
				return nil, fmt.Errorf("reading embedded default config: %w", err)
			}
		}
	}

	cfg := &ChainsetupConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.buffersize", 1024)
	v.SetDefault("engine.samplerate", 48000)
	v.SetDefault("engine.prefill", "auto")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9109")
	v.SetDefault("metrics.prefillblocks", 4)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.clientid", "ecasound-engine")
	v.SetDefault("mqtt.topic", "ecasound/cmd")
}

func mustReadDefault() []byte {
	data, err := defaultConfigFS.ReadFile("chainsetup.yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded default config missing: %v", err))
	}
	return data
}

// defaultConfigPaths lists the per-OS config search paths.
func defaultConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return []string{"."}
	}
	if runtime.GOOS == "windows" {
		return []string{".", filepath.Join(home, "AppData", "Roaming", "ecasound")}
	}
	return []string{".", filepath.Join(home, ".config", "ecasound"), "/etc/ecasound"}
}
