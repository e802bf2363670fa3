package imagegen

import (
	"fmt"
	"strings"
)

// KeyPolicy определяет, как ключ попадает в команду воспроизведения.
type KeyPolicy string

const (
	// KeyPolicyEmbed вставляет ключ в команду как есть.
	KeyPolicyEmbed KeyPolicy = "embed"
	// KeyPolicyRedact подставляет вместо ключа ссылку на переменную окружения.
	KeyPolicyRedact KeyPolicy = "redact"
)

const apiKeyPlaceholder = "${GEMINI_API_KEY}"

// ParseKeyPolicy пустую строку трактует как embed.
func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch p := KeyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", KeyPolicyEmbed:
		return KeyPolicyEmbed, nil
	case KeyPolicyRedact:
		return KeyPolicyRedact, nil
	default:
		return "", fmt.Errorf("unknown key policy %q (expected embed|redact)", s)
	}
}

// ResolveAPIKey: явный непустой ключ (после trim) важнее ключа по умолчанию.
func ResolveAPIKey(explicit, fallback string) string {
	if k := strings.TrimSpace(explicit); k != "" {
		return k
	}
	return strings.TrimSpace(fallback)
}

// MaskAPIKey оставляет по 4 символа с краёв; короткие ключи скрываются полностью.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Visible ключ в том виде, в котором его можно показывать наружу при данной политике.
func (p KeyPolicy) Visible(key string) string {
	if p == KeyPolicyRedact {
		return MaskAPIKey(key)
	}
	return key
}

func (p KeyPolicy) commandKey(key string) string {
	if p == KeyPolicyRedact {
		return apiKeyPlaceholder
	}
	return key
}
