// Package observer turns island events into logs and Prometheus metrics.
//
// Both observers are plain bus subscribers; they can be attached to any bus
// and never influence delivery to other handlers.
package observer
