// Package audiomgr is the thin orchestrator that turns a loaded
// config.ChainsetupConfig into a live audioio.Chainsetup and engine.Engine,
// and runs them to completion: one place that owns object construction
// and background-worker lifecycle, kept out of internal/engine itself so
// the engine stays agnostic of config formats and concrete backends.
package audiomgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/audioio/flacfile"
	"github.com/antorsae/ecasound/internal/audioio/ftpfile"
	"github.com/antorsae/ecasound/internal/audioio/sftpfile"
	"github.com/antorsae/ecasound/internal/audioio/soundcard"
	"github.com/antorsae/ecasound/internal/audioio/wavfile"
	"github.com/antorsae/ecasound/internal/config"
	"github.com/antorsae/ecasound/internal/engine"
	"github.com/antorsae/ecasound/internal/engine/metrics"
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/antorsae/ecasound/internal/mqttctl"
	"github.com/antorsae/ecasound/internal/proxy"
	"github.com/prometheus/client_golang/prometheus"
)

// ComponentAudiomgr identifies errors raised by this package.
const ComponentAudiomgr = "audiomgr"

// Manager owns the chainsetup, the engine built on top of it, and the
// optional background services (MQTT control, metrics) layered over it.
type Manager struct {
	cs     *audioio.Chainsetup
	engine *engine.Engine
	mqtt   *mqttctl.Controller
	logger *slog.Logger
}

// Engine returns the built engine, e.g. for a caller that wants to issue
// commands directly instead of only through internal/mqttctl.
func (m *Manager) Engine() *engine.Engine { return m.engine }

// New builds a Chainsetup and Engine from cfg. registry is used only when
// cfg.Metrics.Enabled; pass nil otherwise.
func New(cfg *config.ChainsetupConfig, registry *prometheus.Registry, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cs := audioio.New(cfg.Engine.BufferSize, cfg.Engine.SampleRate)
	cs.Looping = cfg.Engine.Looping
	cs.Multitrack = cfg.Engine.Multitrack
	cs.PriorityRequest = cfg.Engine.PriorityRequest
	if cfg.Engine.TotalLength > 0 {
		cs.TotalLengthSet = true
		cs.TotalLength = cfg.Engine.TotalLength
	}
	switch cfg.Engine.Prefill {
	case "none":
		cs.Prefill = audioio.PrefillNone
	case "fixed":
		cs.Prefill = audioio.PrefillFixed
		cs.FixedPrefill = cfg.Engine.FixedPrefill
	default:
		cs.Prefill = audioio.PrefillAuto
	}

	// proxyServer double-buffers every network-backed object so the
	// driver thread only ever touches a ring buffer, never a socket.
	// Built lazily: a chainsetup with no ftp/sftp objects gets no proxy
	// server at all.
	var proxyServer *proxy.Server
	registerProxied := func(obj audioio.Object) audioio.Object {
		if proxyServer == nil {
			proxyServer = proxy.NewServer()
		}
		return proxyServer.RegisterClient(obj)
	}

	nameToInput := make(map[string]int, len(cfg.Inputs))
	for i, oc := range cfg.Inputs {
		obj, err := buildObject(oc, audioio.ModeRead)
		if err != nil {
			return nil, errors.New(err).Component(ComponentAudiomgr).Category(errors.CategorySetup).
				Context("operation", "build_input").Context("name", oc.Name).Build()
		}
		if isNetworkBacked(oc) {
			obj = registerProxied(obj)
		}
		cs.AddInput(obj)
		nameToInput[oc.Name] = i
	}

	nameToOutput := make(map[string]int, len(cfg.Outputs))
	for i, oc := range cfg.Outputs {
		obj, err := buildObject(oc, audioio.ModeWrite)
		if err != nil {
			return nil, errors.New(err).Component(ComponentAudiomgr).Category(errors.CategorySetup).
				Context("operation", "build_output").Context("name", oc.Name).Build()
		}
		if isNetworkBacked(oc) {
			obj = registerProxied(obj)
		}
		cs.AddOutput(obj)
		nameToOutput[oc.Name] = i
	}

	for _, cc := range cfg.Chains {
		d := audioio.ChainDescriptor{Name: cc.Name, ConnectedIn: -1, ConnectedOut: -1}
		if cc.Input != "" {
			idx, ok := nameToInput[cc.Input]
			if !ok {
				return nil, errors.New(nil).Component(ComponentAudiomgr).Category(errors.CategorySetup).
					Context("operation", "build_chain").Context("chain", cc.Name).
					Context("reason", "unknown input name").Context("input", cc.Input).Build()
			}
			d.ConnectedIn = idx
		}
		if cc.Output != "" {
			idx, ok := nameToOutput[cc.Output]
			if !ok {
				return nil, errors.New(nil).Component(ComponentAudiomgr).Category(errors.CategorySetup).
					Context("operation", "build_chain").Context("chain", cc.Name).
					Context("reason", "unknown output name").Context("output", cc.Output).Build()
			}
			d.ConnectedOut = idx
		}
		cs.AddChain(d)
	}

	e, err := engine.New(cs, nil, logger)
	if err != nil {
		return nil, errors.New(err).Component(ComponentAudiomgr).Category(errors.CategorySetup).
			Context("operation", "new_engine").Build()
	}
	if proxyServer != nil {
		e.SetProxyServer(proxyServer)
	}

	if cfg.Metrics.Enabled && registry != nil {
		thresholds := metrics.NewThresholds(cfg.Engine.BufferSize, cfg.Engine.SampleRate, cfg.Metrics.PrefillBlocks)
		em, err := metrics.NewEngineMetrics(registry, thresholds)
		if err != nil {
			return nil, errors.New(err).Component(ComponentAudiomgr).Category(errors.CategorySetup).
				Context("operation", "new_metrics").Build()
		}
		e.SetMetrics(em)
	}

	m := &Manager{cs: cs, engine: e, logger: logger}

	if cfg.MQTT.Enabled {
		m.mqtt = mqttctl.New(mqttctl.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		}, e, logger.With("component", mqttctl.ComponentMQTTCtl))
	}

	return m, nil
}

// isNetworkBacked reports whether oc's backend talks to a remote service,
// so it must never be read/written from the driver thread directly: ftp
// and sftp archival outputs are proxied (double-buffered) for exactly
// this reason, while local wavfile/flacfile objects are not.
func isNetworkBacked(oc config.ObjectConfig) bool {
	return oc.Type == "ftpfile" || oc.Type == "sftpfile"
}

// buildObject constructs the audioio.Object described by oc. mode is the
// direction the caller needs (ModeRead for an ObjectConfig that came from
// cfg.Inputs, ModeWrite from cfg.Outputs); backends that are inherently
// one-directional (ftpfile, sftpfile) ignore it.
func buildObject(oc config.ObjectConfig, mode audioio.Mode) (audioio.Object, error) {
	switch oc.Type {
	case "wavfile":
		if mode == audioio.ModeRead {
			return wavfile.NewReader(oc.Path, oc.BufferFrames), nil
		}
		return wavfile.NewWriter(oc.Path, oc.Channels, oc.SampleRate, oc.BitDepth), nil

	case "flacfile":
		if mode != audioio.ModeRead {
			return nil, fmt.Errorf("flacfile does not support write mode")
		}
		return flacfile.NewReader(oc.Path), nil

	case "ftpfile":
		cfg := ftpfile.Config{
			Host: oc.Host, Port: oc.Port,
			Username: oc.Username, Password: oc.Password,
			RemotePath: oc.RemotePath,
			Timeout:    time.Duration(oc.TimeoutSec) * time.Second,
		}
		return ftpfile.New(cfg, oc.RemoteName, oc.Channels, oc.SampleRate, oc.BitDepth), nil

	case "sftpfile":
		cfg := sftpfile.Config{
			Host: oc.Host, Port: oc.Port,
			Username: oc.Username, Password: oc.Password,
			RemotePath: oc.RemotePath,
			Timeout:    time.Duration(oc.TimeoutSec) * time.Second,
		}
		if oc.KeyPEMPath != "" {
			key, err := os.ReadFile(oc.KeyPEMPath)
			if err != nil {
				return nil, fmt.Errorf("reading sftp private key %s: %w", oc.KeyPEMPath, err)
			}
			cfg.KeyPEM = key
		}
		return sftpfile.New(cfg, oc.RemoteName, oc.Channels, oc.SampleRate, oc.BitDepth), nil

	case "soundcard":
		cfg := soundcard.Config{
			DeviceName: oc.Device, Channels: oc.Channels,
			SampleRate: oc.SampleRate, BufferFrames: oc.BufferFrames,
		}
		return soundcard.New(oc.Name, mode, cfg), nil

	default:
		return nil, fmt.Errorf("unknown object type %q", oc.Type)
	}
}

// Run starts any enabled background services, runs the engine (with
// batchMode set, Exec returns once the last command leaves the engine
// finished or errored with no further start requests), and stops the
// background services once Exec returns. A failure in the MQTT controller cancels
// the whole group so it is never silently leaked, the same errgroup
// contract internal/proxy uses for its own background worker.
func (m *Manager) Run(ctx context.Context, batchMode bool) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, stopServices := context.WithCancel(gctx)
	defer stopServices()

	if m.mqtt != nil {
		g.Go(func() error {
			if err := m.mqtt.Connect(gctx); err != nil {
				return errors.New(err).Component(ComponentAudiomgr).Category(errors.CategorySetup).
					Context("operation", "mqtt_connect").Build()
			}
			<-gctx.Done()
			m.mqtt.Disconnect()
			return nil
		})
	}

	g.Go(func() error {
		defer stopServices()
		return m.engine.Exec(gctx, batchMode)
	})

	m.engine.Command(engine.OpStart, 0)

	return g.Wait()
}
