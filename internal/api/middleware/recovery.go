package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"tradecore/pkg/utils"
)

// Recovery - middleware восстановления после паники в handlers.
// Паника и stack trace уходят в лог, клиент получает 500 без деталей.
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	log := logger.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic in handler",
						utils.String("panic", fmt.Sprint(rec)),
						utils.String("path", r.URL.Path),
						utils.RequestID(RequestIDFromContext(r.Context())),
						utils.String("stack", string(debug.Stack())),
					)
					writeError(w, http.StatusInternalServerError, "Internal server error", "")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
