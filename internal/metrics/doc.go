// Package metrics exposes security and request metrics in Prometheus format.
//
// A Registry implements auth.Recorder, so the authenticator, the policy,
// and the revocation store report into it directly. Every event can also be
// fanned out to an EventSink; the InfluxDB client is the production sink.
package metrics
