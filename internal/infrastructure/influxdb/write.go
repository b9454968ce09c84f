package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by this package.
const (
	MeasurementAuthEvents  = "auth_events"
	MeasurementRevocations = "revocations"
)

// WriteAuthEvent records one security event, e.g. a failed login or a
// policy denial. kind is the event family ("login", "auth_failure",
// "policy_denial", "rate_limited") and detail narrows it ("success",
// "expired", "delete_user:forbidden").
//
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteAuthEvent(kind, detail string) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(authEventPoint(kind, detail, time.Now()))
}

// WriteRevocationStats records the size of the revocation store after a sweep.
func (c *Client) WriteRevocationStats(tracked, swept int) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(revocationPoint(tracked, swept, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func authEventPoint(kind, detail string, at time.Time) *write.Point {
	tags := map[string]string{"kind": kind}
	if detail != "" {
		tags["detail"] = detail
	}
	return write.NewPoint(MeasurementAuthEvents, tags, map[string]interface{}{"count": 1}, at)
}

func revocationPoint(tracked, swept int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRevocations,
		nil,
		map[string]interface{}{
			"tracked": tracked,
			"swept":   swept,
		},
		at,
	)
}
