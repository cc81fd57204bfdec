package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const callerDepth = 16

// callerHook points entry.Caller at the first frame outside logrus and this
// package, replacing the wrapper frame logrus reports.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := externalCaller(); ok {
		entry.Caller = &frame
	}
	return nil
}

func externalCaller() (runtime.Frame, bool) {
	pcs := make([]uintptr, callerDepth)
	// runtime.Callers, externalCaller, Fire
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !internalFrame(frame.Function) && frame.Function != "" {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func internalFrame(fn string) bool {
	return strings.Contains(fn, "sirupsen/logrus") || strings.Contains(fn, "whalewatch/logger.")
}
