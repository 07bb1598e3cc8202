package mqtt

import "errors"

// Use errors.Is to check for these.
var (
	ErrNotConnected    = errors.New("mqtt: client not connected")
	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS      = errors.New("mqtt: invalid QoS level (must be 0, 1 or 2)")
	ErrInvalidTopic    = errors.New("mqtt: topic cannot be empty")
	ErrInvalidConfig   = errors.New("mqtt: invalid config")
)
