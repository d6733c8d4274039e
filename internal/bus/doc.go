// Package bus provides in-process publish/subscribe event fan-out.
//
// The automation engine publishes lifecycle events (conflict.detected,
// execution.completed, ...) on the bus; main wires subscribers that mirror
// them to MQTT or log them. Handlers run synchronously with per-handler
// panic isolation, so one misbehaving subscriber never suppresses delivery
// to the others.
package bus
