// Package logging provides structured logging for the lload proxy.
//
// Logger is a small key/value interface implemented on top of zap's
// SugaredLogger, so packages never import zap directly.
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/lload/lload.log",
//	})
//
//	logger.Info("upstream connected",
//	    "backend", "ldap1",
//	    "addr", "10.0.0.5:389",
//	)
//
// Every connection gets its own logger via WithRequestID, carrying the
// connection id generated by GenerateRequestID. Tests use NewNop.
package logging
