// Package telemetry publishes vehicle status over MQTT and accepts remote
// commands on a command topic.
package telemetry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitcar/command"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ConnectTimeout = 10 * time.Second
	PublishTimeout = 2 * time.Second
	// CommandQueueSize bounds the commands waiting for the worker. Commands
	// arriving on a full queue are dropped.
	CommandQueueSize = 16
)

// Config locates the broker. An empty Broker disables MQTT.
type Config struct {
	Broker       string        `yaml:"broker" env:"BITCAR_MQTT_BROKER"`
	ClientID     string        `yaml:"client_id" env:"BITCAR_MQTT_CLIENT_ID"`
	Username     string        `yaml:"username" env:"BITCAR_MQTT_USERNAME"`
	Password     string        `yaml:"password" env:"BITCAR_MQTT_PASSWORD"`
	Topic        string        `yaml:"topic" env:"BITCAR_MQTT_TOPIC"`
	CommandTopic string        `yaml:"command_topic" env:"BITCAR_MQTT_COMMAND_TOPIC"`
	ReplyTopic   string        `yaml:"reply_topic" env:"BITCAR_MQTT_REPLY_TOPIC"`
	QoS          byte          `yaml:"qos" env:"BITCAR_MQTT_QOS"`
	Period       time.Duration `yaml:"period" env:"BITCAR_MQTT_PERIOD"`
}

func (c Config) Enabled() bool {
	return c.Broker != ""
}

func (c Config) Validate(path string) error {
	if !c.Enabled() {
		return nil
	}
	if c.Topic == "" {
		return errors.Errorf("%s.topic is required", path)
	}
	if c.QoS > 2 {
		return errors.Errorf("%s.qos %d above 2", path, c.QoS)
	}
	if c.Period <= 0 {
		return errors.Errorf("%s.period must be positive", path)
	}
	if c.CommandTopic != "" && c.ReplyTopic == "" {
		return errors.Errorf("%s.reply_topic is required with command_topic", path)
	}
	return nil
}

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Connect dials the broker. The client reconnects on its own afterwards.
func Connect(cfg Config, logger *zap.SugaredLogger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("connected to mqtt broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("mqtt connection lost", "error", err)
	}
	// handlers only queue work, replies may go out while others arrive
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		logger.Warnw("mqtt broker not reachable yet, retrying in background", "broker", cfg.Broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", cfg.Broker)
	}
	return client, nil
}

// Publisher sends status snapshots and serves commands.
type Publisher struct {
	client Client
	cfg    Config
	clk    clock.Clock
	logger *zap.SugaredLogger
}

// NewPublisher wraps a connected client. A nil clk means the wall clock.
func NewPublisher(client Client, cfg Config, clk clock.Clock, logger *zap.SugaredLogger) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	return &Publisher{client: client, cfg: cfg, clk: clk, logger: logger}
}

func (p *Publisher) send(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(PublishTimeout) {
		return errors.Errorf("publish to %s timed out", topic)
	}
	return errors.Wrapf(token.Error(), "could not publish to %s", topic)
}

// Publish sends one status to the status topic.
func (p *Publisher) Publish(s command.Status) error {
	payload, err := s.Marshal()
	if err != nil {
		return err
	}
	return p.send(p.cfg.Topic, payload)
}

// Run publishes source() every period until ctx is done.
func (p *Publisher) Run(ctx context.Context, source func() command.Status) {
	ticker := p.clk.Ticker(p.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.Publish(source()); err != nil {
			p.logger.Warnw("status publish failed", "error", err)
		}
	}
}

// ServeCommands subscribes to the command topic and publishes exec's reply
// for every message on the reply topic. The subscription handler only queues
// the message; a worker executes commands one at a time, in arrival order,
// until ctx is done. It is a no-op without a command topic.
func (p *Publisher) ServeCommands(ctx context.Context, exec func(*command.Command) *command.Reply) error {
	if p.cfg.CommandTopic == "" {
		return nil
	}
	queue := make(chan []byte, CommandQueueSize)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case queue <- msg.Payload():
		default:
			p.logger.Warnw("mqtt command queue full, command dropped", "topic", msg.Topic())
		}
	}
	token := p.client.Subscribe(p.cfg.CommandTopic, p.cfg.QoS, handler)
	if !token.WaitTimeout(ConnectTimeout) {
		return errors.Errorf("subscribe to %s timed out", p.cfg.CommandTopic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "could not subscribe to %s", p.cfg.CommandTopic)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw := <-queue:
				// nothing runs once ctx is done, even if both were ready
				if ctx.Err() != nil {
					return
				}
				p.reply(raw, exec)
			}
		}
	}()
	p.logger.Infow("serving mqtt commands", "topic", p.cfg.CommandTopic)
	return nil
}

func (p *Publisher) reply(raw []byte, exec func(*command.Command) *command.Reply) {
	var reply *command.Reply
	cmd, err := command.Unmarshal(raw)
	if err != nil {
		p.logger.Warnw("bad mqtt command", "error", err)
		t := command.CommandType("")
		if cmd != nil {
			t = cmd.Type
		}
		reply = command.Failed(t, err)
	} else {
		reply = exec(cmd)
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		p.logger.Errorw("could not encode reply", "error", err)
		return
	}
	if err := p.send(p.cfg.ReplyTopic, payload); err != nil {
		p.logger.Warnw("reply publish failed", "error", err)
	}
}
