// Package config loads the action bridge configuration.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file, then ACTIONBRIDGE_* environment variables. Load validates the
// merged result and fills per-device protocol defaults (version 3.3, port
// 6668, profile "b").
//
// Keep secrets out of the file where possible: each device's local key can
// be supplied as ACTIONBRIDGE_DEVICE_<NAME>_LOCAL_KEY (see DeviceKeyEnv) and
// the broker password as ACTIONBRIDGE_MQTT_PASSWORD.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	topic := cfg.ListenerTopic()
package config
