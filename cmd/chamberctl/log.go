package main

import (
	"fmt"
	"log/slog"
)

// debugAdapter passes Printf style frame traces to slog at debug level.
type debugAdapter struct {
	*slog.Logger
}

func (log *debugAdapter) Printf(format string, args ...any) {
	log.Logger.Debug(fmt.Sprintf(format, args...))
}
