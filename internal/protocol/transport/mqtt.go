package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// mqttPublishTimeout bounds how long Send waits for the broker.
const mqttPublishTimeout = 5 * time.Second

// MQTTConnection reaches a device through an MQTT broker: outbound frames
// are published to PublishTopic and messages on SubscribeTopic are
// delivered as inbound frames.
//
// Reconnection is delegated to the paho client (auto-reconnect) when
// Reconnect is set; the reconnecting phase is reported as WAITING.
type MQTTConnection struct {
	*base

	cfg Config

	// newClient builds the paho client; replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu      sync.Mutex
	client  pahomqtt.Client
	started bool
	done    *closeOnce
}

// NewMQTTConnection returns an unconnected MQTT device connection.
func NewMQTTConnection(cfg Config) *MQTTConnection {
	return &MQTTConnection{
		base:      newBase(cfg.URI()),
		cfg:       cfg,
		newClient: pahomqtt.NewClient,
		done:      newCloseOnce(),
	}
}

// Connect starts connecting to the broker and returns immediately.
func (c *MQTTConnection) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done.IsClosed() {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	c.startDispatcher()

	c.client = c.newClient(c.buildOptions())
	client := c.client

	c.setStatus(StatusConnecting)
	go func() {
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.errorsTotal.Add(1)
			c.logError("broker connect failed", err)
			if !c.done.IsClosed() {
				c.setStatus(StatusError)
			}
		}
	}()
	return nil
}

func (c *MQTTConnection) buildOptions() *pahomqtt.ClientOptions {
	mc := c.cfg.MQTT
	clientID := mc.ClientID
	if clientID == "" {
		clientID = "graylogic-agent-" + uuid.NewString()[:8]
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(mc.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetConnectTimeout(c.cfg.ConnectTimeout()).
		SetAutoReconnect(c.cfg.Reconnect).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectRetry(c.cfg.Reconnect).
		SetConnectRetryInterval(c.cfg.ReconnectInterval())

	if mc.Username != "" {
		opts.SetUsername(mc.Username)
		opts.SetPassword(mc.Password)
	}

	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		token := client.Subscribe(mc.SubscribeTopic, mc.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			c.deliver(msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			c.errorsTotal.Add(1)
			c.logError("subscribe failed", err)
			c.setStatus(StatusError)
			return
		}
		c.logInfo("connected", "uri", c.uri)
		c.setStatus(StatusConnected)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.errorsTotal.Add(1)
		c.logError("broker connection lost", err)
		c.setStatus(StatusDisconnected)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.reconnects.Add(1)
		c.setStatus(StatusWaiting)
	})

	return opts
}

// Disconnect closes the broker session. A disconnected connection cannot
// be reconnected.
func (c *MQTTConnection) Disconnect() error {
	c.done.Close()

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client != nil {
		if client.IsConnected() {
			client.Unsubscribe(c.cfg.MQTT.SubscribeTopic).WaitTimeout(time.Second)
		}
		client.Disconnect(250)
	}
	c.setStatus(StatusDisconnected)
	c.stopDispatcher()
	return nil
}

// Send publishes data to the device's publish topic.
func (c *MQTTConnection) Send(data []byte) error {
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	token := client.Publish(c.cfg.MQTT.PublishTopic, c.cfg.MQTT.QoS, false, data)
	if !token.WaitTimeout(mqttPublishTimeout) {
		c.errorsTotal.Add(1)
		return fmt.Errorf("transport: publish to %s timed out", c.cfg.MQTT.PublishTopic)
	}
	if err := token.Error(); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("transport: publish to %s: %w", c.cfg.MQTT.PublishTopic, err)
	}
	c.recordSend(len(data))
	return nil
}

var _ Connection = (*MQTTConnection)(nil)
