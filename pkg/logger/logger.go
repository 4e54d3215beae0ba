package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	log  *slog.Logger
	once sync.Once
)

// Init configures the process-wide JSON logger. Safe to call more than once;
// only the first call takes effect.
func Init() {
	once.Do(func() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: levelFromEnv(),
		}))
	})
}

func levelFromEnv() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func attrs(fields map[string]interface{}) []any {
	out := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}

func Debug(event string, fields map[string]interface{}) {
	Init()
	log.Debug(event, attrs(fields)...)
}

func Info(event string, fields map[string]interface{}) {
	Init()
	log.Info(event, attrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	Init()
	log.Warn(event, attrs(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	Init()
	args := attrs(fields)
	if err != nil {
		args = append(args, "error", err.Error())
	}
	log.Error(event, args...)
}
