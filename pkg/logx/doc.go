// Package logx configures tgrelay's structured logging.
//
// Logger is a small wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink that forwards warnings to an ops chat
package logx
