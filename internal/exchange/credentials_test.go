package exchange

import (
	"errors"
	"testing"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"both present", map[string]string{"BYBIT_API_KEY": " key ", "BYBIT_API_SECRET": "secret"}, false},
		{"missing secret", map[string]string{"BYBIT_API_KEY": "key"}, true},
		{"missing key", map[string]string{"BYBIT_API_SECRET": "secret"}, true},
		{"blank key", map[string]string{"BYBIT_API_KEY": "  ", "BYBIT_API_SECRET": "secret"}, true},
		{"other exchange", map[string]string{"BINANCE_API_KEY": "key", "BINANCE_API_SECRET": "secret"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := CredentialsFromEnv("bybit", EnvironmentTestnet, mapLookup(tt.env))
			if tt.wantErr {
				if !errors.Is(err, ErrAuthentication) {
					t.Errorf("err = %v, want ErrAuthentication", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if creds.APIKey != "key" || creds.APISecret != "secret" || creds.Environment != EnvironmentTestnet {
				t.Errorf("creds = %+v", creds)
			}
		})
	}
}
