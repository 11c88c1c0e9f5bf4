// Package risk - проверки риска перед входом, автоматические предохранители
// и правила сопровождения открытой позиции. Оценщики не возвращают ошибок:
// результат всегда структурный список отказов.
package risk

// Advisory - некритичная пометка о возможности, которая ещё не подключена.
// Зависимая проверка при этом уже отработала по безопасному умолчанию.
type Advisory struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Идентификаторы пометок
const (
	AdvisoryCorrelationMatrix       = "TODO_CORRELATION_MATRIX"
	AdvisoryVolatilityNormalization = "TODO_VOLATILITY_NORMALIZATION"
	AdvisoryVolatilityFeed          = "TODO_VOLATILITY_FEED"
	AdvisoryPositionFlattening      = "TODO_POSITION_FLATTENING"
)

// Advisories - список пометок без повторов, порядок первого появления сохраняется
type Advisories struct {
	items []Advisory
	seen  map[string]struct{}
}

// Add добавляет пометку, если такой ID ещё не было
func (a *Advisories) Add(items ...Advisory) {
	if a.seen == nil {
		a.seen = make(map[string]struct{})
	}
	for _, it := range items {
		if _, ok := a.seen[it.ID]; ok {
			continue
		}
		a.seen[it.ID] = struct{}{}
		a.items = append(a.items, it)
	}
}

// Items - накопленные пометки
func (a *Advisories) Items() []Advisory {
	return a.items
}

// Len - количество пометок
func (a *Advisories) Len() int {
	return len(a.items)
}

// Has проверяет наличие пометки
func (a *Advisories) Has(id string) bool {
	_, ok := a.seen[id]
	return ok
}

// Reset очищает список
func (a *Advisories) Reset() {
	a.items = nil
	a.seen = nil
}
