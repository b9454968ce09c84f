// Package logging sets up structured logging on log/slog.
//
// Entries carry service and version attributes, go to stdout, stderr or a
// lumberjack-rotated file, and are encoded as JSON (default) or text:
//
//	logging:
//	  level: info        # debug, info, warn, error
//	  format: json       # json, text
//	  output: stdout     # stdout, stderr, file
//	  file:
//	    path: ./logs/tierlist.log
//	    max_size: 100    # MB
//	    max_backups: 5
//	    max_age: 30      # days
//	    compress: true
//
// Never log bearer tokens, passwords or password hashes.
package logging
