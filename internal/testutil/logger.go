// Package testutil provides shared test helpers for servicedesk packages.
package testutil

import (
	"os"

	"go.uber.org/zap"
)

// LogLevelEnv selects the test logger level ("debug", "info", ...).
const LogLevelEnv = "SERVICEDESK_TEST_LOG"

// Logger returns a development Zap logger for use in tests. It logs at warn
// unless LogLevelEnv names another level.
func Logger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if env := os.Getenv(LogLevelEnv); env != "" {
		if lvl, err := zap.ParseAtomicLevel(env); err == nil {
			cfg.Level = lvl
		}
	}
	l, err := cfg.Build()
	if err != nil {
		panic("testutil.Logger: " + err.Error())
	}
	return l
}
