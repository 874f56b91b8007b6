package utils

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// Recovery is deferred at the top of handlers and goroutines; a panic is logged with its
// stack and swallowed.
func Recovery(log *zap.Logger, where string) {
	if r := recover(); r != nil {
		if log == nil {
			log = zap.L()
		}
		log.Error("panic recovered",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}

// SafeGo starts fn on its own goroutine with Recovery installed.
func SafeGo(log *zap.Logger, name string, fn func()) {
	go func() {
		defer Recovery(log, name)
		fn()
	}()
}

// SafeGoWithCallback is SafeGo with a hook that runs after a panic was recovered.
func SafeGoWithCallback(log *zap.Logger, name string, fn func(), onPanic func(r any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if log == nil {
					log = zap.L()
				}
				log.Error("panic recovered",
					zap.String("where", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
