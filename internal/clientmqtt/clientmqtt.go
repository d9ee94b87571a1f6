package clientmqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sacngen/internal/console"
	"sacngen/internal/logger"
)

// queueSize bounds the commands received but not yet taken by the dispatch loop.
const queueSize = 64

// ErrBusy is replied for a command that arrived while the queue was full.
var ErrBusy = errors.New("command queue full")

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       logger.Logger
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	pending   chan console.Line
	seq       int
	publish   func(topic string, payload []byte)
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	c := &ClientMQTT{
		ctx:       context.Background(),
		log:       log,
		cfgClient: cfgClient,
		pending:   make(chan console.Line, queueSize),
	}
	c.publish = c.pubTopic
	return c
}

// Start connects to the broker and feeds every command received on the
// command topic into lines.
func (c *ClientMQTT) Start(ctx context.Context, lines chan<- console.Line) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx
	go c.forward(ctx, lines)

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// Подписка повторяется при каждом переподключении.
func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
	c.sub(c.cfgClient.CommandTopic)
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("received message: %q from topic: %s", msg.Payload(), msg.Topic())

	commands, err := parsePayload(msg.Payload())
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("message could not be parsed (%q): %v", msg.Payload(), err)
		c.reply("", err)
		return
	}

	// Обработчик вызывается в горутине paho и не должен блокироваться:
	// при SetOrderMatters(true) он задерживает всю входящую очередь клиента.
	for _, cmd := range commands {
		if c.ctx.Err() != nil {
			return
		}
		c.seq++
		cmd := cmd
		line := console.Line{
			Source: "mqtt",
			Number: c.seq,
			Text:   cmd,
			Reply:  func(err error) { c.reply(cmd, err) },
		}
		select {
		case c.pending <- line:
		default:
			c.log.With(logger.Fields{"module": "mqtt"}).Warnf("command queue full, dropped %q", cmd)
			c.reply(cmd, ErrBusy)
		}
	}
}

// forward hands queued commands to the dispatch loop in arrival order.
func (c *ClientMQTT) forward(ctx context.Context, lines chan<- console.Line) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-c.pending:
			select {
			case <-ctx.Done():
				return
			case lines <- line:
			}
		}
	}
}

// parsePayload accepts a JSON Payload or plain text with one command per line.
func parsePayload(payload []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var p Payload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, err
		}
		var out []string
		if p.Command != "" {
			out = append(out, p.Command)
		}
		out = append(out, p.Commands...)
		return out, nil
	}

	var out []string
	for _, l := range strings.Split(string(trimmed), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *ClientMQTT) reply(cmd string, err error) {
	if c.cfgClient.StatusTopic == "" {
		return
	}
	res := Result{Command: cmd, OK: err == nil, Time: time.Now().UTC()}
	if err != nil {
		res.Error = err.Error()
	}
	msg, jerr := json.Marshal(res)
	if jerr != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("public topic. msg: %v", jerr)
		return
	}
	c.publish(c.cfgClient.StatusTopic, msg)
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed", topic)
	}()
}

func (c *ClientMQTT) pubTopic(topic string, msg []byte) {
	token := c.client.Publish(topic, c.cfgClient.Qos, false, msg)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}
