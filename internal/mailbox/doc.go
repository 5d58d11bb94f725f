// Package mailbox implements per-agent FIFO message queues over Redis,
// RabbitMQ or process memory. Delivery is at-most-once per scheduler tick:
// a backlog drains one message per poll so that each reply is produced with
// the freshest possible context.
package mailbox
