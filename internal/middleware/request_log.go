package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/squadchat/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус ответа и
// длительность (асинхронно). Для hijacked-соединений (WebSocket) вместо
// статуса пишется длительность жизни соединения.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			label := "http " + r.Method + " " + r.URL.Path
			if wrap.hijacked {
				label += " hijacked"
			} else {
				label += " status=" + strconv.Itoa(wrap.status)
			}
			logger.LogDuration(label, start)
		}()
		next.ServeHTTP(wrap, r)
	})
}
