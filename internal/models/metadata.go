package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata - произвольные параметры сущности, хранятся в JSONB.
// Допустимые ключи и типы задаёт MetadataSchema сущности.
type Metadata map[string]interface{}

// Value реализует driver.Valuer: nil и пустая карта пишутся как '{}'
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(m))
}

// Scan реализует sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}

	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	*m = out
	return nil
}

// Number возвращает числовое значение ключа
func (m Metadata) Number(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Text возвращает строковое значение ключа
func (m Metadata) Text(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// FieldKind - тип значения в метаданных
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
)

// FieldSpec - описание поля метаданных
type FieldSpec struct {
	Kind     FieldKind
	Required bool
}

// MetadataSchema - допустимые поля метаданных сущности
type MetadataSchema map[string]FieldSpec

// ErrInvalidMetadata - метаданные не соответствуют схеме
var ErrInvalidMetadata = errors.New("invalid metadata")

// Validate проверяет метаданные: неизвестные ключи запрещены,
// обязательные должны присутствовать, типы должны совпадать.
// Все нарушения собираются в одну ошибку.
func (s MetadataSchema) Validate(m Metadata) error {
	var problems []string

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		spec, ok := s[k]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown key %q", k))
			continue
		}
		if !kindMatches(spec.Kind, m[k]) {
			problems = append(problems, fmt.Sprintf("key %q must be %s, got %T", k, spec.Kind, m[k]))
		}
	}

	required := make([]string, 0)
	for k, spec := range s {
		if _, ok := m[k]; spec.Required && !ok {
			required = append(required, k)
		}
	}
	sort.Strings(required)
	for _, k := range required {
		problems = append(problems, fmt.Sprintf("missing required key %q", k))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, strings.Join(problems, "; "))
	}
	return nil
}

func kindMatches(kind FieldKind, v interface{}) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
	}
	return false
}

// Схемы метаданных сущностей
var (
	SetupParametersSchema = MetadataSchema{
		"level_price": {Kind: KindNumber},
		"level_type":  {Kind: KindString},
		"level_id":    {Kind: KindNumber},
		"source":      {Kind: KindString},
		"note":        {Kind: KindString},
	}

	SignalParametersSchema = MetadataSchema{
		"trend_direction": {Kind: KindNumber}, // 1 или -1 для TREND_ALIGNMENT
		"divergence_type": {Kind: KindString},
		"level_price":     {Kind: KindNumber},
		"rsi_period":      {Kind: KindNumber},
		"volume_ratio":    {Kind: KindNumber},
		"source":          {Kind: KindString},
		"manual":          {Kind: KindBool},
	}

	RegimeParametersSchema = MetadataSchema{
		"ema20":      {Kind: KindNumber},
		"ema50":      {Kind: KindNumber},
		"rsi":        {Kind: KindNumber},
		"atr_ratio":  {Kind: KindNumber},
		"classifier": {Kind: KindString},
	}
)
