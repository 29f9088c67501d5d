package llm

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the transport/backend failure taxonomy. Every kind is
// retryable; the kind survives retries so the caller sees the most specific
// classification after the attempt budget is spent.
type Kind int

const (
	// KindRequest is the base classification: transport failures and
	// non-network errors wrapped during a request.
	KindRequest Kind = iota
	// KindRateLimit means the backend signaled throttling.
	KindRateLimit
	// KindGateway means an edge/CDN error page was detected, including
	// pages served with a 200 status by misbehaving proxies.
	KindGateway
	// KindSSL means a transport-layer TLS failure.
	KindSSL
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate limit"
	case KindGateway:
		return "gateway"
	case KindSSL:
		return "ssl"
	default:
		return "request"
	}
}

// RequestError is a retryable transport or backend failure from the
// language-model API. JSON parse failures of model output are deliberately
// not represented here; those are recoverable and never raised.
type RequestError struct {
	Kind       Kind
	StatusCode int
	Message    string
	cause      error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm: %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: %s error: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.cause
}

func newRequestError(kind Kind, statusCode int, format string, args ...any) *RequestError {
	return &RequestError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    fmt.Sprintf(format, args...),
	}
}

// wrapError folds an arbitrary failure into the taxonomy. TLS failures map
// to KindSSL, everything else to the base KindRequest.
func wrapError(err error) *RequestError {
	kind := KindRequest
	if isTLSError(err) {
		kind = KindSSL
	}
	return &RequestError{
		Kind:    kind,
		Message: err.Error(),
		cause:   err,
	}
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		return true
	}
	// net/http flattens some handshake failures into plain errors.
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

// gatewaySignatures are substrings of known edge/CDN error pages. Some
// proxies serve these with a 200 status, so bodies must be checked even on
// success responses.
var gatewaySignatures = []string{
	"502 bad gateway",
	"503 service unavailable",
	"504 gateway time-out",
	"504 gateway timeout",
	"cloudflare error",
	"error code 502",
	"error code 503",
	"error code 504",
}

// looksLikeGatewayPage reports whether a response body matches a known
// edge/CDN error-page signature. Only HTML-shaped bodies are considered so
// legitimate model output quoting one of the phrases is not misclassified.
func looksLikeGatewayPage(body []byte) bool {
	probe := body
	if len(probe) > 2048 {
		probe = probe[:2048]
	}
	lower := strings.ToLower(string(probe))

	if !strings.Contains(lower, "<html") && !strings.Contains(lower, "<!doctype") {
		return false
	}
	for _, sig := range gatewaySignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// exhausted stamps the retry diagnostics onto the error while preserving the
// original failure text and the most specific kind.
func (e *RequestError) exhausted(attempts int) *RequestError {
	return &RequestError{
		Kind:       e.Kind,
		StatusCode: e.StatusCode,
		Message:    fmt.Sprintf("giving up after %d attempts: %s", attempts, e.Message),
		cause:      e.cause,
	}
}
