// README: MQTT notifier; one topic per vendor and event kind.
package notify

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTNotifier struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

func NewMQTTNotifier(client mqtt.Client, prefix string) *MQTTNotifier {
	return &MQTTNotifier{client: client, prefix: prefix, qos: 1, timeout: 5 * time.Second}
}

// Topic returns "<prefix>/<vendor>/<kind>"; events without a vendor go to "_".
func (n *MQTTNotifier) Topic(e Event) string {
	vendor := string(e.VendorID)
	if vendor == "" {
		vendor = "_"
	}
	return fmt.Sprintf("%s/%s/%s", n.prefix, vendor, e.Kind)
}

func (n *MQTTNotifier) Notify(ctx context.Context, e Event) error {
	payload, err := encode(e)
	if err != nil {
		return err
	}
	tok := n.client.Publish(n.Topic(e), n.qos, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(n.timeout):
		return fmt.Errorf("mqtt publish %s: timeout", n.Topic(e))
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", n.Topic(e), err)
	}
	return nil
}
