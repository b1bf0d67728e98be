// Package logx configures medichine's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional push-alert sink (min-level + rate limiting) so operators get
//     notified when a dose fails to go out
package logx
