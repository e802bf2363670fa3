package imagegen

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    Kind
		wantMsg string
	}{
		{name: "nil", err: nil, want: KindUnknown, wantMsg: msgUnknown},
		{name: "empty message", err: errors.New("  \n "), want: KindUnknown, wantMsg: msgUnknown},
		{name: "invalid key", err: errors.New("Error 400, Message: API key not valid. Please pass a valid API key., Status: INVALID_ARGUMENT"), want: KindAuthInvalid, wantMsg: msgAuthInvalid},
		{name: "invalid key reason", err: errors.New("reason: API_KEY_INVALID"), want: KindAuthInvalid},
		{name: "permission phrase", err: errors.New("Permission denied on resource project"), want: KindAuthDenied, wantMsg: msgAuthDenied},
		{name: "permission status", err: errors.New("Status: PERMISSION_DENIED"), want: KindAuthDenied},
		{name: "403", err: errors.New("Error 403"), want: KindAuthDenied},
		{name: "quota phrase", err: errors.New("Error: 429 quota exceeded"), want: KindQuotaExceeded, wantMsg: msgQuotaExceeded},
		{name: "resource exhausted", err: errors.New("Status: RESOURCE_EXHAUSTED"), want: KindQuotaExceeded},
		{name: "429 only", err: errors.New("got HTTP 429"), want: KindQuotaExceeded},
		{name: "400", err: errors.New("Error 400, Message: Request contains an invalid argument."), want: KindBadRequest, wantMsg: msgBadRequest},
		{name: "generic", err: errors.New("connection reset by peer"), want: KindTransport, wantMsg: "Failed to generate image: connection reset by peer"},
		{name: "multiline collapsed", err: errors.New("upstream\nclosed   stream"), want: KindTransport, wantMsg: "Failed to generate image: upstream closed stream"},
		{name: "deadline", err: fmt.Errorf("do request: %w", context.DeadlineExceeded), want: KindTransport, wantMsg: "Failed to generate image: request timed out"},
		{name: "canceled", err: context.Canceled, want: KindTransport, wantMsg: "Failed to generate image: request cancelled"},
		{name: "timeout cause", err: fmt.Errorf("Post \"http://127.0.0.1:4007/v1beta/models/x:predict\": %w", errTimeout), want: KindTransport, wantMsg: "Failed to generate image: request timed out"},
		{
			name:    "ipv6 address is not a status",
			err:     errors.New("Post \"https://generativelanguage.googleapis.com/v1beta\": dial tcp [2a00:1450:4001:82b::200a]:443: connect: network is unreachable"),
			want:    KindTransport,
			wantMsg: "Failed to generate image: Post \"https://generativelanguage.googleapis.com/v1beta\": dial tcp [2a00:1450:4001:82b::200a]:443: connect: network is unreachable",
		},
		{name: "port is not a status", err: errors.New("dial tcp 127.0.0.1:4007: connect: connection refused"), want: KindTransport},
		{name: "request id is not a status", err: errors.New("upstream failed, request id 94290a1"), want: KindTransport},
		{name: "api error invalid key", err: genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key.", Status: "INVALID_ARGUMENT"}, want: KindAuthInvalid},
		{name: "api error unauthenticated", err: genai.APIError{Code: 401, Status: "UNAUTHENTICATED"}, want: KindAuthInvalid},
		{name: "api error forbidden", err: fmt.Errorf("generate: %w", genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}), want: KindAuthDenied},
		{name: "api error quota", err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, want: KindQuotaExceeded},
		{name: "api error bad request", err: genai.APIError{Code: 400, Message: "Request contains an invalid argument.", Status: "INVALID_ARGUMENT"}, want: KindBadRequest, wantMsg: msgBadRequest},
		{name: "api error server", err: genai.APIError{Code: 503, Message: "The service is currently unavailable.", Status: "UNAVAILABLE"}, want: KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("expected kind %q, got %q", tt.want, got.Kind)
			}
			if tt.wantMsg != "" && got.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, got.Message)
			}
			// genai.APIError несравним, поэтому сверяем причину по тексту.
			if tt.err != nil && (got.Err == nil || got.Err.Error() != tt.err.Error()) {
				t.Errorf("classified error does not wrap the cause")
			}
		})
	}
}

func TestClassify_KeepsTypedError(t *testing.T) {
	orig := noOutputError(errNoImage)
	wrapped := fmt.Errorf("generate: %w", orig)

	if got := Classify(wrapped); got != orig {
		t.Errorf("expected the typed error to pass through, got %+v", got)
	}
	if KindOf(wrapped) != KindNoOutput {
		t.Errorf("expected no-output, got %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("expected unknown for untyped error")
	}
	if KindOf(nil) != "" {
		t.Error("expected empty kind for nil")
	}
}
