// Package logger provides leveled, thread-safe logging keyed by cluster member.
//
// It is a thin layer over logrus that keeps call sites short: every entry
// carries a timestamp, level, an optional member id and the message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Run started")
//	logger.Warn("10.0.0.2:4500", "SIGSTOP delivered")
//	logger.Error("", "Convergence failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("10.0.0.2:4500", "Debug message")
//
// # Output Format
//
// The text format is "[time] [LEVEL] [member] message". Configure("info",
// "json") switches the default logger to logrus' JSON formatter, with the
// member id in the "member" field.
//
// # Thread Safety
//
// All logging operations are safe for concurrent use.
package logger
