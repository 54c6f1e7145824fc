// Package clientmqtt принимает команды из MQTT и публикует состояние экрана
// и документы discovery для Home Assistant.
package clientmqtt

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"onairsync/internal/apperr"
	"onairsync/internal/command"
	"onairsync/internal/config"
	"onairsync/internal/logger"
	"onairsync/internal/metrics"
)

const (
	publishTimeout = 5 * time.Second
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	log       *logger.Log
	cfgClient config.MQTTConf
	disp      Dispatcher
	recorder  metrics.Recorder
	topics    Topics
	device    Device

	ctx         context.Context
	client      mqtt.Client
	opts        *mqtt.ClientOptions
	broadcaster *Broadcaster
}

// NewClient конструктор.
func NewClient(log *logger.Log, cfgClient config.MQTTConf, disp Dispatcher) *ClientMQTT {
	c := &ClientMQTT{
		log:       log.Module("mqtt"),
		cfgClient: cfgClient,
		disp:      disp,
		recorder:  metrics.NoopRecorder{},
		topics:    NewTopics(cfgClient),
		device:    Device{Name: cfgClient.DeviceName},
		ctx:       context.Background(),
	}
	c.broadcaster = NewBroadcaster(disp.Store(), c, c.topics, c.device, cfgClient.Discovery, c.log)
	return c
}

// WithRecorder sets the metrics recorder.
func (c *ClientMQTT) WithRecorder(r metrics.Recorder) *ClientMQTT {
	if r != nil {
		c.recorder = r
	}
	return c
}

// WithVersion sets the software version reported in discovery.
func (c *ClientMQTT) WithVersion(v string) *ClientMQTT {
	c.device.Version = v
	c.broadcaster.device = c.device
	return c
}

// Topics returns the resolved topic layout.
func (c *ClientMQTT) Topics() Topics { return c.topics }

// Run connects to the broker and mirrors the state until ctx is done. Broker
// loss is handled by paho reconnecting; the OnConnect handler resubscribes
// and triggers a full republish.
func (c *ClientMQTT) Run(ctx context.Context) error {
	c.ctx = ctx
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(c.log.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.CRITICAL = log.New(c.log.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.WARN = log.New(c.log.WriterLevel(logrus.WarnLevel), "", 0)
	}

	clientID, clean := sessionFor(c.cfgClient, c.topics)
	retry := c.cfgClient.RetryInterval.Duration
	if retry <= 0 {
		retry = 5 * time.Second
	}

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(clientID).
		SetWill(c.topics.Status(), payloadOffline, c.cfgClient.Qos, true).
		SetOrderMatters(false).
		SetCleanSession(clean).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retry).
		SetMaxReconnectInterval(retry * 6).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)
	c.log.With(logger.Fields{"broker": c.opts.Servers[0].String(), "clientID": clientID}).Info("connecting")

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return apperr.New(apperr.CategoryTransport, apperr.CodeDisconnected, "mqtt connect: %v", token.Error())
		}
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil
	}

	c.broadcaster.Run(ctx)
	return c.Stop()
}

// Stop publishes the offline status and disconnects.
func (c *ClientMQTT) Stop() error {
	if c.client == nil || !c.client.IsConnected() {
		return nil
	}
	if t := c.client.Unsubscribe(c.topics.Command(), c.topics.SetFilter()); !t.WaitTimeout(time.Second) {
		c.log.Warn("unsubscribe timed out")
	} else if err := t.Error(); err != nil {
		c.log.With(logger.Fields{"error": err.Error()}).Warn("unsubscribe failed")
	}
	t := c.client.Publish(c.topics.Status(), c.cfgClient.Qos, true, payloadOffline)
	t.WaitTimeout(time.Second)
	c.client.Disconnect(500)
	c.recorder.SetMQTTConnected(false)
	c.log.Info("disconnected")
	return nil
}

// sessionFor returns the client id and whether the session is clean. A
// configured id keeps a persistent session; otherwise the id is derived from
// the node id and the broker drops the session on disconnect.
func sessionFor(cfg config.MQTTConf, t Topics) (string, bool) {
	if cfg.ClientID != "" {
		return cfg.ClientID, false
	}
	return "onairsync-" + t.NodeID, true
}

// Publish implements Publisher on the live connection.
func (c *ClientMQTT) Publish(topic string, retained bool, payload []byte) error {
	if c.client == nil || !c.client.IsConnectionOpen() {
		return apperr.New(apperr.CategoryTransport, apperr.CodeDisconnected, "publish %s: not connected", topic)
	}
	token := c.client.Publish(topic, c.cfgClient.Qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return apperr.New(apperr.CategoryTransport, apperr.CodeTimeout, "publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return apperr.New(apperr.CategoryTransport, apperr.CodeDisconnected, "publish %s: %v", topic, err)
	}
	return nil
}

func (c *ClientMQTT) connectHandler(client mqtt.Client) {
	c.log.Info("client connected to server")
	c.recorder.SetMQTTConnected(true)
	c.sub(client, c.topics.Command())
	c.sub(client, c.topics.SetFilter())
	client.Publish(c.topics.Status(), c.cfgClient.Qos, true, payloadOnline)
	c.broadcaster.Resync()
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.recorder.SetMQTTConnected(false)
	c.log.With(logger.Fields{"error": err.Error()}).Error("server connect lost")
}

func (c *ClientMQTT) sub(client mqtt.Client, topic string) {
	token := client.Subscribe(topic, c.cfgClient.Qos, c.messageHandler)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"topic": topic, "error": token.Error().Error()}).Error("topic subscription error")
				return
			}
		}
		c.log.With(logger.Fields{"topic": topic}).Debug("topic subscribed")
	}()
}

// messageHandler turns cmd payloads and <entity>/set payloads into commands.
// Retained messages are ignored so stale commands are not replayed.
func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	if msg.Retained() {
		c.log.With(logger.Fields{"topic": msg.Topic()}).Debug("retained command ignored")
		return
	}
	raw, err := c.commandFor(msg.Topic(), msg.Payload())
	if err != nil {
		c.log.With(logger.Fields{"topic": msg.Topic(), "error": err.Error()}).Warn("message dropped")
		return
	}
	c.log.With(logger.Fields{"topic": msg.Topic(), "cmd": raw}).Debug("received message")
	// Rejections are logged by the dispatcher; MQTT has no reply channel.
	_, _ = c.disp.Submit(c.ctx, []byte(raw), command.SourceMQTT)
}

func (c *ClientMQTT) commandFor(topic string, payload []byte) (string, error) {
	if topic == c.topics.Command() {
		return string(payload), nil
	}
	entity, ok := c.topics.entityFromSetTopic(topic)
	if !ok {
		return "", fmt.Errorf("unexpected topic %s", topic)
	}
	return entityCommand(entity, string(payload))
}
