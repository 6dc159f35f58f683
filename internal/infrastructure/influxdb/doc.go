// Package influxdb records device command outcomes in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each finished job
// becomes one point in the device_command measurement, tagged by device,
// action, source and result, so command latency and failure rates can be
// graphed per device.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
//	pool.AddRecorder(client)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched; call Flush to force delivery.
package influxdb
