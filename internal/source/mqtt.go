// v0
// internal/source/mqtt.go
package source

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTDialer connects to one broker per Dial and subscribes to Topic and
// everything below it.
type MQTTDialer struct {
	Topic     string
	ClientID  string
	KeepAlive time.Duration
}

type mqttConn struct {
	client mqtt.Client
}

func (c *mqttConn) Close() error {
	c.client.Disconnect(250)
	return nil
}

func (d MQTTDialer) Dial(ctx context.Context, endpoint string, onMessage MessageFunc, onLost LostFunc) (Conn, error) {
	keepAlive := d.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(endpoint).
		SetClientID(fmt.Sprintf("%s-%s", d.ClientID, uuid.NewString()[:8])).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(keepAlive)
	if deadline, ok := ctx.Deadline(); ok {
		opts.SetConnectTimeout(time.Until(deadline))
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		onLost(err)
	})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}

	filters := map[string]byte{d.Topic: 0, d.Topic + "/#": 0}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		onMessage(msg.Payload())
	}
	if err := waitToken(ctx, client.SubscribeMultiple(filters, handler)); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribe %s: %w", d.Topic, err)
	}
	return &mqttConn{client: client}, nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
