package exchange

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnsupportedExchange - биржа не зарегистрирована
var ErrUnsupportedExchange = errors.New("unsupported exchange")

// Constructor создаёт клиента биржи по ключам
type Constructor func(creds Credentials, opts ...Option) Client

// Registry - реестр конструкторов адаптеров по имени биржи
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry создаёт реестр с Binance и Bybit
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register(binanceName, func(c Credentials, opts ...Option) Client { return NewBinance(c, opts...) })
	r.Register(bybitName, func(c Credentials, opts ...Option) Client { return NewBybit(c, opts...) })
	return r
}

// Register добавляет или заменяет конструктор
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[strings.ToLower(name)] = ctor
}

// Create создаёт клиента биржи по имени
func (r *Registry) Create(name string, creds Credentials, opts ...Option) (Client, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[strings.ToLower(name)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExchange, name)
	}
	return ctor(creds, opts...), nil
}

// IsSupported проверяет, поддерживается ли биржа
func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[strings.ToLower(name)]
	return ok
}

// Names возвращает отсортированный список бирж
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
