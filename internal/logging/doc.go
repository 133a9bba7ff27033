// Package logging provides structured logging for dialogd on top of zap.
//
// Features:
//   - Context-aware methods that attach session, turn and trace fields
//   - Custom trace level below debug
//   - Redaction of sensitive keys and value patterns at encode time
//   - Level-aware sampling; errors are never sampled
//   - Optional OpenTelemetry log export through the otelzap bridge
//   - TestLogger for asserting on emitted entries
//
// Library packages accept a plain *zap.Logger. Binaries build a Logger and
// hand those packages Underlying():
//
//	cfg, err := logging.FromSettings(c.Logging.Level, c.Logging.Format)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	logger.Info(ctx, "replay started", zap.String("script", path))
package logging
