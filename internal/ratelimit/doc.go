// Package ratelimit provides fixed-window request limiters.
//
// Two backends share the Limiter interface: an in-process map for single
// instances and a Redis counter for deployments behind a load balancer.
// Each call to Allow counts one request against key; the first request in a
// window starts it and the window does not slide.
package ratelimit
