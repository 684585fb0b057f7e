// Package logx configures scuttlebot's structured logging.
//
// A small wrapper (logx.Logger) over zerolog:
//   - console output with a short timestamp and caller
//   - JSON lines when writing to a file
//   - an optional chat sink for the bot's log group, filtered by level and rate limited
package logx
