// Package logging provides structured logging for the Gray Logic agent.
//
// It wraps log/slog with the agent's default fields (service, version) and
// per-component child loggers. Core packages never import it: they declare
// a narrow Logger interface that *Logger satisfies.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	rt, err := protocol.NewRuntime(protocol.RuntimeOptions{
//	    Sink:   sink,
//	    Logger: logger.Component("protocol"),
//	})
package logging
