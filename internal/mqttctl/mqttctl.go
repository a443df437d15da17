// Package mqttctl is an additional transport for the engine's command
// opcode set: it subscribes to an MQTT topic and translates
// incoming payloads into engine.Command() calls. It never bypasses the
// command queue — every message ends up as a normal enqueue, same as a
// local controller call.
package mqttctl

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/antorsae/ecasound/internal/engine"
	"github.com/antorsae/ecasound/internal/errors"
)

// ComponentMQTTCtl identifies errors raised by this package.
const ComponentMQTTCtl = "mqttctl"

// opcodeNames maps the wire opcode names to engine.Opcode.
var opcodeNames = map[string]engine.Opcode{
	"exit":                engine.OpExit,
	"start":               engine.OpStart,
	"stop":                engine.OpStop,
	"c_select":            engine.OpChainSelect,
	"c_mute":              engine.OpChainMute,
	"c_bypass":            engine.OpChainBypass,
	"cop_select":          engine.OpOperatorSelect,
	"copp_select":         engine.OpOperatorParamSelect,
	"copp_value":          engine.OpOperatorParamValue,
	"rewind":              engine.OpRewind,
	"forward":             engine.OpForward,
	"setpos":              engine.OpSetPos,
	"setpos_live_samples": engine.OpSetPosLiveSamples,
}

// Config addresses the broker and the command topic this controller
// subscribes to.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Controller subscribes to Config.Topic and feeds parsed commands into an
// Engine, reconnecting with backoff on connection loss.
type Controller struct {
	cfg    Config
	engine *engine.Engine
	logger *slog.Logger

	mu             sync.Mutex
	client         mqtt.Client
	reconnectTimer *time.Timer
	reconnectStop  chan struct{}
}

// New creates a Controller bound to e. Call Connect to start receiving.
func New(cfg Config, e *engine.Engine, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, engine: e, logger: logger, reconnectStop: make(chan struct{})}
}

// Connect resolves the broker and starts the MQTT client, returning once
// the connection is established or after a 30-second timeout; ctx is not
// consulted. The command topic is subscribed from the on-connect handler,
// so the subscription may still be pending when Connect returns.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.resolveBrokerHostname(); err != nil {
		return errors.New(err).Component(ComponentMQTTCtl).Category(errors.CategorySetup).
			Context("operation", "connect").Context("broker", c.cfg.Broker).Build()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New(nil).Component(ComponentMQTTCtl).Category(errors.CategorySetup).
			Context("operation", "connect").Context("reason", "timeout").Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).Component(ComponentMQTTCtl).Category(errors.CategorySetup).
			Context("operation", "connect").Build()
	}
	return nil
}

func (c *Controller) resolveBrokerHostname() error {
	u, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("invalid broker url: %w", err)
	}
	if _, err := net.LookupHost(u.Hostname()); err != nil {
		return fmt.Errorf("resolve %s: %w", u.Hostname(), err)
	}
	return nil
}

func (c *Controller) onConnect(cli mqtt.Client) {
	token := cli.Subscribe(c.cfg.Topic, 0, c.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error("mqtt subscribe failed", "component", ComponentMQTTCtl, "topic", c.cfg.Topic, "error", err)
		return
	}
	c.logger.Info("mqtt controller connected", "component", ComponentMQTTCtl, "broker", c.cfg.Broker, "topic", c.cfg.Topic)
}

func (c *Controller) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("mqtt connection lost", "component", ComponentMQTTCtl, "error", err)
}

// handleMessage parses one payload and enqueues the corresponding
// command. Payload format: "<opcode> [arg]", e.g. "copp_value 0.75".
// Malformed or unknown payloads are logged and dropped — a bad message on
// the wire must never crash the controller.
func (c *Controller) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	fields := strings.Fields(string(msg.Payload()))
	if len(fields) == 0 {
		return
	}

	opcode, ok := opcodeNames[fields[0]]
	if !ok {
		c.logger.Warn("unknown opcode on command topic", "component", ComponentMQTTCtl, "opcode", fields[0])
		return
	}

	var arg float64
	if len(fields) > 1 {
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			c.logger.Warn("malformed command argument", "component", ComponentMQTTCtl, "opcode", fields[0], "arg", fields[1], "error", err)
			return
		}
		arg = v
	}

	c.engine.Command(opcode, arg)
}

// IsConnected reports whether the underlying MQTT client is connected.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnected()
}

// Disconnect closes the connection.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
}
