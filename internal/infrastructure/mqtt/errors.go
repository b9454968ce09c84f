package mqtt

import "errors"

var (
	// ErrDisabled is returned by Connect when mqtt.enabled is false.
	ErrDisabled = errors.New("mqtt: disabled in configuration")

	// ErrConnectionFailed wraps the broker's answer to the initial connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned while the broker link is down. Events are
	// not queued for later delivery.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidEvent is returned for an event missing its entity or action.
	ErrInvalidEvent = errors.New("mqtt: event needs entity and action")

	// ErrPublishFailed wraps encoding, size and broker failures.
	ErrPublishFailed = errors.New("mqtt: publish failed")
)
