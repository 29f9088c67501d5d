package llm

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestLooksLikeGatewayPage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "502 page",
			body: "<html><title>502 Bad Gateway</title></html>",
			want: true,
		},
		{
			name: "503 page",
			body: "<!DOCTYPE html><body>503 Service Unavailable</body>",
			want: true,
		},
		{
			name: "cloudflare page",
			body: "<html><head><title>Cloudflare Error</title></head></html>",
			want: true,
		},
		{
			name: "json error envelope is not a gateway page",
			body: `{"error": {"message": "502 Bad Gateway"}}`,
			want: false,
		},
		{
			name: "legitimate completion",
			body: `{"choices": [{"message": {"content": "hello"}}]}`,
			want: false,
		},
		{
			name: "empty body",
			body: "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeGatewayPage([]byte(tt.body)); got != tt.want {
				t.Errorf("looksLikeGatewayPage(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestWrapError_TLSClassified(t *testing.T) {
	tlsErr := tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}
	wrapped := wrapError(fmt.Errorf("request failed: %w", tlsErr))
	if wrapped.Kind != KindSSL {
		t.Errorf("Kind = %v, want KindSSL", wrapped.Kind)
	}

	plain := wrapError(errors.New("connection refused"))
	if plain.Kind != KindRequest {
		t.Errorf("Kind = %v, want KindRequest", plain.Kind)
	}
}

func TestRequestError_ExhaustedKeepsKindAndText(t *testing.T) {
	orig := newRequestError(KindGateway, 200, "gateway error page in 200 response: 502 Bad Gateway")
	final := orig.exhausted(3)

	if final.Kind != KindGateway {
		t.Errorf("Kind = %v, want KindGateway", final.Kind)
	}
	if got := final.Error(); !strings.Contains(got, "3 attempts") || !strings.Contains(got, "502 Bad Gateway") {
		t.Errorf("Error() = %q, want attempt count and original failure text", got)
	}
}
