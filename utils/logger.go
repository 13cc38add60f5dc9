// utils/logger.go
package utils

import (
	"go.uber.org/zap"
)

// Log is the process-wide logger. It is a no-op until InitLogger runs so that
// packages and tests can log unconditionally.
var Log = zap.NewNop()

// InitLogger swaps Log for a production or development zap logger.
func InitLogger(env string) error {
	var (
		l   *zap.Logger
		err error
	)
	if env == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	Log = l
	return nil
}
