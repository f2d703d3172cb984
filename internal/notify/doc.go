// Package notify delivers alert notifications. Email and chat-bot sends go
// through durable Redis-backed work queues with retry, backoff and priority;
// push notifications are best-effort. A send that fails because the
// recipient is invalid disables that channel on the user and is never
// retried.
package notify
