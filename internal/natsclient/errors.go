package natsclient

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid nats config")
	ErrNotConnected  = errors.New("nats client not connected")
	ErrDrainTimeout  = errors.New("nats drain timeout exceeded")
)
