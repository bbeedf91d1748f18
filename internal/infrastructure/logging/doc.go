// Package logging provides structured logging for knxsync.
//
// It wraps log/slog. Every entry carries service=knxsync and the build
// version. Formats:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, console
//	  output: "stdout"   # stdout, stderr
//
// The console format is coloured when writing to a terminal.
//
// Components take small Logger interfaces (Debug/Info/Warn/Error with
// key/value pairs) which *Logger satisfies, so a component can be built
// without one:
//
//	logger := logging.New(cfg.Logging, version)
//	client.SetLogger(logger.With("component", "knx"))
//
// Never log secrets, tokens, passwords, or API keys.
package logging
