package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// Kind категория ошибки, которую видит пользователь.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindNoOutput      Kind = "no-output"
	KindAuthInvalid   Kind = "auth-invalid"
	KindAuthDenied    Kind = "auth-denied"
	KindQuotaExceeded Kind = "quota-exceeded"
	KindBadRequest    Kind = "bad-request"
	KindTransport     Kind = "generic-transport"
	KindUnknown       Kind = "unknown"
)

// MsgEmptyPrompt сообщение валидации пустого промпта.
const MsgEmptyPrompt = "Please enter a prompt."

const (
	msgNoOutput      = "No image was generated. The prompt may have been blocked or the response was empty."
	msgAuthInvalid   = "Invalid API key. Please check your API key and try again."
	msgAuthDenied    = "Permission denied. Your API key may not have access to this model."
	msgQuotaExceeded = "Quota exceeded. You have reached the request limit for this API key; please try again later."
	msgBadRequest    = "Invalid request. The prompt may have been blocked by safety filters."
	msgUnknown       = "An unknown error occurred while communicating with the image generation service."
	msgTransportFmt  = "Failed to generate image: %s"
)

// Error классифицированная ошибка генерации. Message: одна строка для показа пользователю,
// Err: исходная причина (может быть nil).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf возвращает категорию ошибки; для неклассифицированных ошибок KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

func validationError() *Error {
	return &Error{Kind: KindValidation, Message: MsgEmptyPrompt}
}

// ValidatePrompt отклоняет пустой промпт и промпт из одних пробелов.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return validationError()
	}
	return nil
}

// UnknownError ошибка без пригодного сообщения, например паника внутри вызова.
func UnknownError(cause error) *Error {
	return &Error{Kind: KindUnknown, Message: msgUnknown, Err: cause}
}

func configError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: "Configuration error: " + fmt.Sprintf(format, args...)}
}

func noOutputError(cause error) *Error {
	return &Error{Kind: KindNoOutput, Message: msgNoOutput, Err: cause}
}

// Статусы в тексте ошибок без типа: только отдельное число, чтобы не цеплять порты и адреса.
var (
	status400 = regexp.MustCompile(`\b400\b`)
	status403 = regexp.MustCompile(`\b403\b`)
	status429 = regexp.MustCompile(`\b429\b`)
)

func timeoutError(cause error) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf(msgTransportFmt, "request timed out"), Err: cause}
}

// Classify сводит произвольную ошибку вызова к одной из категорий.
// Порядок проверок важен: сообщение о неверном ключе обычно приходит вместе со статусом 400.
func Classify(err error) *Error {
	if err == nil {
		return UnknownError(nil)
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	switch {
	case errors.Is(err, errTimeout), errors.Is(err, context.DeadlineExceeded):
		return timeoutError(err)
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindTransport, Message: fmt.Sprintf(msgTransportFmt, "request cancelled"), Err: err}
	}

	msg := singleLine(err.Error())
	if msg == "" {
		return UnknownError(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, msg, err)
	}

	lower := strings.ToLower(msg)
	switch {
	case isInvalidKey(lower):
		return &Error{Kind: KindAuthInvalid, Message: msgAuthInvalid, Err: err}
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "permission_denied"), status403.MatchString(msg):
		return &Error{Kind: KindAuthDenied, Message: msgAuthDenied, Err: err}
	case strings.Contains(lower, "quota"), strings.Contains(lower, "resource_exhausted"), status429.MatchString(msg):
		return &Error{Kind: KindQuotaExceeded, Message: msgQuotaExceeded, Err: err}
	case status400.MatchString(msg):
		return &Error{Kind: KindBadRequest, Message: msgBadRequest, Err: err}
	default:
		return &Error{Kind: KindTransport, Message: fmt.Sprintf(msgTransportFmt, msg), Err: err}
	}
}

// classifyAPIError разбирает ответ сервера по коду и статусу, а не по тексту.
func classifyAPIError(apiErr genai.APIError, msg string, err error) *Error {
	status := strings.ToUpper(apiErr.Status)
	lower := strings.ToLower(msg)
	switch {
	case isInvalidKey(lower), apiErr.Code == http.StatusUnauthorized, status == "UNAUTHENTICATED":
		return &Error{Kind: KindAuthInvalid, Message: msgAuthInvalid, Err: err}
	case apiErr.Code == http.StatusForbidden, status == "PERMISSION_DENIED", strings.Contains(lower, "permission denied"):
		return &Error{Kind: KindAuthDenied, Message: msgAuthDenied, Err: err}
	case apiErr.Code == http.StatusTooManyRequests, status == "RESOURCE_EXHAUSTED", strings.Contains(lower, "quota"):
		return &Error{Kind: KindQuotaExceeded, Message: msgQuotaExceeded, Err: err}
	case apiErr.Code == http.StatusBadRequest, status == "INVALID_ARGUMENT", status == "FAILED_PRECONDITION":
		return &Error{Kind: KindBadRequest, Message: msgBadRequest, Err: err}
	default:
		return &Error{Kind: KindTransport, Message: fmt.Sprintf(msgTransportFmt, msg), Err: err}
	}
}

// isInvalidKey текст API_KEY_INVALID приходит в Details, поэтому смотрим на всё сообщение.
func isInvalidKey(lower string) bool {
	return strings.Contains(lower, "api key not valid") || strings.Contains(lower, "api_key_invalid")
}

// singleLine схлопывает переводы строк и повторные пробелы.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
