// Package config loads the service configuration: built-in defaults,
// then the YAML file, then TIERLIST_* environment variables, then
// validation.
//
// Secrets (the JWT secret, bootstrap admin password, MQTT, InfluxDB and
// Redis credentials) belong in the environment rather than the file. An
// empty JWT secret is accepted; a random key is used and every restart
// logs all users out.
package config
