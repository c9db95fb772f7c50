// Package logx wraps zerolog behind a small structured-logging facade.
//
// The Logger value type is cheap to copy and safe in its zero state.
// The Service owns the sinks (console, file) and can swap them at
// runtime when the configuration is reloaded.
package logx
