package middleware

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"tradecore/pkg/crypto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookSecretHeader - заголовок с секретом вебхука
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret - middleware аутентификации вебхуков.
//
// Если задан hash (bcrypt), секрет из заголовка проверяется через bcrypt,
// иначе сравнивается с secret за постоянное время. Если не задано ни то,
// ни другое, все запросы отклоняются.
//
// Ответ при отказе: 401 {"error":"Unauthorized","message":"Invalid or missing webhook secret"}
func WebhookSecret(secret, hash string) func(http.Handler) http.Handler {
	verify := func(presented string) bool {
		if hash != "" {
			return crypto.VerifySecret(presented, hash) == nil
		}
		return crypto.EqualSecrets(presented, secret)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verify(r.Header.Get(WebhookSecretHeader)) {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Invalid or missing webhook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, errText, message string) {
	body := map[string]string{"error": errText}
	if message != "" {
		body["message"] = message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
