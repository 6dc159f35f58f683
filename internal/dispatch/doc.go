// Package dispatch runs device commands asynchronously on a bounded worker
// pool.
//
// Producers (the MQTT listener and the HTTP API) call Submit, which hands the
// job to an alitto/pond pool with an unbounded queue and returns at once. At
// most 32 jobs (by default) call the device controller concurrently. Results are
// never returned to the producer; they are logged, counted and handed to any
// registered Recorder.
//
// By default each job is attempted exactly once. A retry policy
// (cenkalti/backoff) and a per-device circuit breaker (sony/gobreaker) can be
// enabled from configuration.
//
//	pool := dispatch.New(controller, dispatch.OptionsFromConfig(cfg.Dispatcher))
//	pool.Start(context.WithoutCancel(ctx))
//	defer pool.Stop(shutdownCtx)
//	_ = pool.Submit(dispatch.NewJob("bike_stand_floods", true, dispatch.SourceMQTT))
package dispatch
