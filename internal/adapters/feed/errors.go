package feed

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind причина неудачного чтения ленты.
type Kind string

const (
	KindRedirectLimit     Kind = "redirect_limit"
	KindPermanentRedirect Kind = "permanent_redirect"
	KindNotFound          Kind = "not_found"
	KindHTTPStatus        Kind = "http_status"
	KindMalformed         Kind = "malformed"
	KindTimeout           Kind = "timeout"
	KindCertificate       Kind = "certificate"
	KindUnknown           Kind = "unknown"
)

var errRedirectLimit = errors.New("превышен лимит редиректов")

// FetchError ошибка чтения ленты с классификацией.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s: %s (%d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf возвращает причину для любой ошибки адаптера.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func classifyTransport(err error) Kind {
	switch {
	case errors.Is(err, errRedirectLimit):
		return KindRedirectLimit
	case isCertificateError(err):
		return KindCertificate
	case isTimeout(err):
		return KindTimeout
	default:
		return KindUnknown
	}
}

func classifyStatus(code int) Kind {
	switch code {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return KindNotFound
	case http.StatusMovedPermanently, http.StatusPermanentRedirect:
		return KindPermanentRedirect
	default:
		return KindHTTPStatus
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		return true
	}
	var hostname x509.HostnameError
	return errors.As(err, &hostname)
}
