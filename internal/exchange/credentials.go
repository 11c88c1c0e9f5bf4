package exchange

import (
	"os"
	"strings"
)

// LookupFunc - источник переменных окружения (os.LookupEnv в проде)
type LookupFunc func(key string) (string, bool)

// CredentialsFromEnv читает <EXCHANGE>_API_KEY и <EXCHANGE>_API_SECRET.
// Отсутствие любого из ключей - ошибка класса Authentication.
func CredentialsFromEnv(exchange string, env Environment, lookup LookupFunc) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	prefix := strings.ToUpper(exchange)

	key, okKey := lookup(prefix + "_API_KEY")
	secret, okSecret := lookup(prefix + "_API_SECRET")
	key, secret = strings.TrimSpace(key), strings.TrimSpace(secret)

	if !okKey || !okSecret || key == "" || secret == "" {
		return Credentials{}, newError(strings.ToLower(exchange), KindAuthentication, "",
			"missing "+prefix+"_API_KEY or "+prefix+"_API_SECRET", nil)
	}

	return Credentials{APIKey: key, APISecret: secret, Environment: env}, nil
}
