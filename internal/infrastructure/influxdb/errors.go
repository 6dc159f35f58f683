package influxdb

import "errors"

// Sentinel errors; match with errors.Is.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: client closed")
	ErrWriteFailed      = errors.New("influxdb: write failed")
)
