// Package broker moves jobs between producers and workers over durable named
// queues.
//
// Every message is a JSON envelope carrying a typed payload plus job
// parameters (a force flag and free-form metadata). Queues are declared
// durable before every publish and consume; messages are persistent and
// addressed directly by queue name. Consumers receive at most prefetch
// unacknowledged messages and settle each one only after its handler returns,
// so a crash mid-job redelivers the message.
//
// What happens to a failed job is a configurable FailurePolicy. The default
// acknowledges failures after logging them.
//
// Two transports are provided: RabbitMQ over AMQP 0-9-1 and a local SQLite
// queue for single-host deployments and tests.
package broker
