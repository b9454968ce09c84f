// Package influxdb exports security events to InfluxDB.
//
// It wraps influxdb-client-go v2 with connection management, a batched
// non-blocking write API, and health checks. The metrics package fans login
// outcomes, authentication failures, policy denials, and revocation sweeps
// out to it when influxdb.enabled is set.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login", "success")
//
// # Measurements
//
//   - auth_events: tags kind, detail; field count
//   - revocations: fields tracked, swept
//
// All methods are safe for concurrent use. Asynchronous write failures are
// delivered to the callback registered with SetOnError.
package influxdb
