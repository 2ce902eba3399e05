package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Logger middleware для логирования входящих HTTP запросов
type Logger struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Logger {
	return &Logger{
		log: log.With(slog.String("component", "http_logger")),
	}
}

// Middleware возвращает middleware функцию для логирования HTTP запросов
func (l *Logger) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		next(ctx)

		level := slog.LevelInfo
		if ctx.Status() >= 500 {
			level = slog.LevelError
		}
		// опрос почтовых ящиков идет каждую секунду, его пишем в debug
		if ctx.Method() == http.MethodGet && strings.Contains(ctx.URL().Path, "/mailbox/") && ctx.Status() < 400 {
			level = slog.LevelDebug
		}

		l.log.Log(ctx.Context(), level, "HTTP request",
			slog.String("method", ctx.Method()),
			slog.String("path", ctx.URL().Path),
			slog.Int("status", ctx.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", ctx.RemoteAddr()),
		)
	}
}
