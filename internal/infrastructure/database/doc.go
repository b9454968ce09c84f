// Package database opens the SQLite store and applies the embedded schema
// migrations.
//
// Foreign keys are always on, WAL mode is optional and the pool holds a
// single connection. The file is created with 0600 permissions.
//
// Migrations are named YYYYMMDD_HHMMSS_name.up.sql with a matching
// .down.sql. They are additive: new columns must be nullable or have a
// default.
package database
