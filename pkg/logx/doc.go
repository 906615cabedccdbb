// Package logx configures roombot's structured logging.
//
// Components log through logx.Logger, a thin wrapper over zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert sink (min-level + rate limiting) the app forwards to the event bus
package logx
