package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// param - пара ключ-значение
type param struct {
	key   string
	value string
}

// orderedParams сохраняет порядок добавления: подпись считается
// по строке в том порядке, в котором параметры уйдут на биржу.
type orderedParams []param

func (p *orderedParams) add(key, value string) {
	*p = append(*p, param{key: key, value: value})
}

func (p *orderedParams) addFloat(key string, v float64) {
	p.add(key, formatFloat(v))
}

func (p *orderedParams) addInt(key string, v int64) {
	p.add(key, strconv.FormatInt(v, 10))
}

// encode собирает URL-encoded query string в порядке добавления
func (p orderedParams) encode() string {
	var sb strings.Builder
	for i, kv := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(kv.key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv.value))
	}
	return sb.String()
}

// jsonBody собирает JSON-объект со строковыми значениями в порядке добавления
func (p orderedParams) jsonBody() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, kv := range p {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(kv.key)
		stream.WriteString(kv.value)
	}
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, stream.Error
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

// signHex - hex(HMAC-SHA256(secret, payload))
func signHex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseFloat разбирает числовую строку биржи, пустая строка = 0
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
