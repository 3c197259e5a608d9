package driverlink

import "errors"

var (
	ErrAuthTimeout         = errors.New("authentication timed out")
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrConnectionLost      = errors.New("connection lost")
	ErrMaxRetriesExceeded  = errors.New("max reconnection attempts exceeded")
	ErrHandshakeInProgress = errors.New("handshake already in progress")
	ErrNotConnected        = errors.New("not connected")
	ErrClosed              = errors.New("link closed")
	errQueueFull           = errors.New("send queue full")
)
