package imagegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// shellQuote оборачивает строку в одинарные кавычки; внутренние ' заменяются на '\''.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// marshalBody сериализует тело запроса без HTML-экранирования, чтобы команда читалась глазами.
func marshalBody(body any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// buildCommand собирает curl-команду, повторяющую REST-вызов к endpoint.
// Ключ не экранируется через url.QueryEscape, если это плейсхолдер переменной окружения.
func buildCommand(endpoint, key string, body any) (string, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return "", fmt.Errorf("encode request body: %w", err)
	}
	if key != apiKeyPlaceholder {
		key = url.QueryEscape(key)
	}
	return fmt.Sprintf(`curl -X POST "%s?key=%s" -H 'Content-Type: application/json' -d %s`,
		endpoint, key, shellQuote(string(payload))), nil
}

// endpointURL адрес REST-метода модели, например
// https://generativelanguage.googleapis.com/v1beta/models/imagen-4.0-generate-001:predict
func endpointURL(baseURL string, model Model, method string) string {
	return fmt.Sprintf("%s/%s/models/%s:%s", strings.TrimRight(baseURL, "/"), apiVersion, model, method)
}
