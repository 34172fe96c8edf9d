package util

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Debug is the highest DPrintf level that is emitted.
var Debug uint64 = 0

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// SetLogger installs l as the sink for DPrintf and Logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

func Logger() *zap.Logger {
	return logger.Load()
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		logger.Load().Sugar().Debugf(format, a...)
	}
}

// Fatal logs err and halts the calling goroutine with it. Callers that need to
// classify the halt recover the panic value and use errors.Is.
func Fatal(err error) {
	logger.Load().Error("fatal", zap.Error(err))
	panic(err)
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// SumOverflows reports whether a+b wraps around a uint64.
func SumOverflows(a uint64, b uint64) bool {
	return a+b < a
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
