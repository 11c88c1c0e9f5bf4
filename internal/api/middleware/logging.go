package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradecore/pkg/utils"
)

// RequestIDHeader - заголовок с идентификатором запроса
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDFromContext возвращает идентификатор запроса, выставленный Logging
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// responseWriter запоминает статус и размер ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack нужен для апгрейда до WebSocket
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Logging - middleware логирования HTTP запросов.
//
// Каждому запросу назначается X-Request-ID (входящий заголовок сохраняется),
// который возвращается клиенту и кладется в context.
// Запись лога: method, path, status, latency_ms, client_ip, bytes, request_id.
// 5xx логируются как error, 4xx как warn.
func Logging(logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	log := logger.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				utils.String("method", r.Method),
				utils.String("path", r.URL.Path),
				utils.Int("status", wrapped.statusCode),
				utils.Latency(float64(time.Since(start).Microseconds()) / 1000),
				utils.String("client_ip", ClientIP(r)),
				utils.Int64("bytes", wrapped.written),
				utils.RequestID(id),
			}

			switch {
			case wrapped.statusCode >= 500:
				log.Error("http request", fields...)
			case wrapped.statusCode >= 400:
				log.Warn("http request", fields...)
			default:
				log.Debug("http request", fields...)
			}
		})
	}
}

// ClientIP возвращает адрес клиента из RemoteAddr без порта
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
