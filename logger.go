package avsync

import (
	"fmt"

	"github.com/avsync/avsync/internal/logger"
)

// Logger is the simple Printf-style logger interface the package exposes.
// The default implementation forwards to the structured slog logger in
// internal/logger. The engine's own workers log through internal/logger
// directly; they do not go through the Logger set here.
type Logger interface {
	Printf(format string, v ...any)
}

type slogPrintf struct{}

func (slogPrintf) Printf(format string, v ...any) {
	logger.Logger().Info(fmt.Sprintf(format, v...))
}

var pkgLogger Logger = slogPrintf{}

// SetLogger replaces the stored package Logger. Pass nil to restore the
// default. Log output of the engine's workers is not redirected by it.
func SetLogger(l Logger) {
	if l == nil {
		pkgLogger = slogPrintf{}
		return
	}
	pkgLogger = l
}
