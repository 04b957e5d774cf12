package badger

import (
	"fmt"
	"log/slog"
)

// slogBadgerLogger adapts a *slog.Logger to badger's own minimal Logger
// interface (Errorf/Warningf/Infof/Debugf), so badger's internal
// compaction/GC messages flow through the same structured logger as the
// rest of the node instead of badger's own stderr writer.
type slogBadgerLogger struct {
	log *slog.Logger
}

func (l slogBadgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error("badger", "msg", fmt.Sprintf(format, args...))
}

func (l slogBadgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn("badger", "msg", fmt.Sprintf(format, args...))
}

func (l slogBadgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info("badger", "msg", fmt.Sprintf(format, args...))
}

func (l slogBadgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug("badger", "msg", fmt.Sprintf(format, args...))
}
