package exchange

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента для бирж
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // таймаут установки TCP соединения (default: 5s)
	ReadTimeout         time.Duration // таймаут ожидания заголовков ответа (default: 10s)
	MaxIdleConns        int           // максимум idle соединений (default: 100)
	MaxIdleConnsPerHost int           // максимум idle соединений на хост (default: 10)
	IdleConnTimeout     time.Duration // таймаут простоя соединения (default: 90s)
	TLSHandshakeTimeout time.Duration // таймаут TLS handshake (default: 5s)
	KeepAliveInterval   time.Duration // интервал Keep-Alive (default: 30s)
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ReadTimeout:         RequestTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewHTTPClient создаёт http.Client с пулом соединений.
// Общий таймаут запроса задаётся контекстом вызова (RequestTimeout).
func NewHTTPClient(config HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	return &http.Client{Transport: transport}
}

// CloseIdle закрывает idle соединения клиента при graceful shutdown
func CloseIdle(c *http.Client) {
	if transport, ok := c.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// Option - настройка адаптера
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// WithBaseURL подменяет базовый URL API (тесты, прокси)
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient задаёт общий HTTP клиент
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock подменяет источник времени для timestamp подписи
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(defaultBase string, opts []Option) options {
	o := options{baseURL: defaultBase, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return o
}

// classifyTransport переводит ошибку транспорта в Timeout или Network
func classifyTransport(ctx context.Context, exchange string, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(exchange, KindTimeout, "", "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(exchange, KindTimeout, "", "request timed out", err)
	}
	return newError(exchange, KindNetwork, "", err.Error(), err)
}
