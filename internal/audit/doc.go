// Package audit records who changed what.
//
// Entries are enqueued by the API through a Writer, whose buffered channel is
// drained by a single goroutine so request handlers never wait on SQLite.
// A Pruner deletes entries older than the configured retention on a cron
// schedule.
package audit
