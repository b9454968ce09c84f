package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Event is the JSON payload published for a domain mutation.
type Event struct {
	Entity    string    `json:"entity"`
	Action    string    `json:"action"`
	ID        string    `json:"id"`
	Owner     string    `json:"owner,omitempty"`
	Public    bool      `json:"public"`
	Actor     string    `json:"actor,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// encodeEvent validates ev and returns its topic and payload.
func encodeEvent(ev Event) (string, []byte, error) {
	if ev.Entity == "" || ev.Action == "" {
		return "", nil, ErrInvalidEvent
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encoding event: %w", ErrPublishFailed, err)
	}
	if len(payload) > maxPayloadSize {
		return "", nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return Topics{}.Event(ev.Entity, ev.Action), payload, nil
}

// PublishEvent hands ev to the broker at the configured QoS, never
// retained, and returns without waiting for the acknowledgment so request
// handlers are not held up by the broker. Late failures are logged and
// counted by Failed.
func (c *Client) PublishEvent(ev Event) error {
	topic, payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Publish(topic, c.qos, false, payload)
	c.inflight.Add(1)
	go c.awaitDelivery(topic, token)
	return nil
}

func (c *Client) awaitDelivery(topic string, token pahomqtt.Token) {
	defer c.inflight.Done()

	var err error
	if token.WaitTimeout(deliveryTimeout) {
		err = token.Error()
	} else {
		err = fmt.Errorf("no acknowledgment within %v", deliveryTimeout)
	}
	if err == nil {
		return
	}

	c.failed.Add(1)
	if l := c.log(); l != nil {
		l.Warn("MQTT event not delivered", "topic", topic, "error", err)
	}
}
