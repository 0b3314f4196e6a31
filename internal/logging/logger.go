package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. Components derive scoped
// loggers through For.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 配置全局日志级别与输出格式。
// level 取值 debug/info/warn/error，无法解析时回退到 info。
func Init(level, service string) {
	InitWithWriter(os.Stdout, level, service)
}

// InitWithWriter is Init with an explicit sink, used by tests and the CLI.
func InitWithWriter(w io.Writer, level, service string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// For returns a logger tagged with the component name.
func For(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
