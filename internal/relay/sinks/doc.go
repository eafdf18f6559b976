// Package sinks contains relay.Sink implementations for logs, Postgres
// LISTEN/NOTIFY, Google Cloud Pub/Sub and Redis PUBLISH.
package sinks
