package logger

import (
	"log"
	"strings"
	"sync/atomic"
)

const (
	levelDebug int32 = iota - 1
	levelInfo
	levelWarn
	levelError
)

// minLevel's zero value is levelInfo.
var minLevel atomic.Int32

// Initialize logging flags (called once from main)
func Init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	minLevel.Store(levelInfo)
}

// SetLevel accepts debug, info, warn or error. Unknown values mean info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		minLevel.Store(levelDebug)
	case "warn", "warning":
		minLevel.Store(levelWarn)
	case "error":
		minLevel.Store(levelError)
	default:
		minLevel.Store(levelInfo)
	}
}

func enabled(level int32) bool {
	return level >= minLevel.Load()
}

func Infof(format string, v ...any) {
	if enabled(levelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warnf(format string, v ...any) {
	if enabled(levelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}

func Errorf(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}

func Debugf(format string, v ...any) {
	if enabled(levelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Fatalf(format string, v ...any) {
	log.Fatalf("[FATAL] "+format, v...)
}
