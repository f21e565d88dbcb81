package kzk

import (
	"strings"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// zkLogger adapts zap to the printf logger the ZooKeeper client logs through.
type zkLogger struct {
	s *zap.SugaredLogger
}

var _ zk.Logger = zkLogger{}

func newZKLogger(l *zap.Logger) zkLogger {
	return zkLogger{l.Named("zookeeper").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Printf logs at info, or at warn for messages the client reports as
// failures.
func (l zkLogger) Printf(format string, args ...any) {
	lower := strings.ToLower(format)
	if strings.Contains(lower, "fail") || strings.Contains(lower, "error") {
		l.s.Warnf(format, args...)
		return
	}
	l.s.Infof(format, args...)
}
