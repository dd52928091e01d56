package api

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"blinkchat-client/internal/websocket"
)

// RequestErrorKind classifies a failed HTTP exchange.
type RequestErrorKind string

const (
	KindBuilder     RequestErrorKind = "BUILDER"
	KindHTTP        RequestErrorKind = "HTTP"
	KindTimeout     RequestErrorKind = "TIMEOUT"
	KindConnect     RequestErrorKind = "CONNECT"
	KindRedirect    RequestErrorKind = "REDIRECT"
	KindDecode      RequestErrorKind = "DECODE"
	KindDeserialize RequestErrorKind = "DESERIALIZE"
	KindUnknown     RequestErrorKind = "UNKNOWN"
)

// RequestError is a transport-level failure. Status is set for KindHTTP.
type RequestError struct {
	Kind   RequestErrorKind
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("api: %s %d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("api: %s: %v", e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// APIError is a structured error body returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// Kind maps the error code onto the shared taxonomy.
func (e *APIError) Kind() websocket.ErrorKind {
	return websocket.KindFromCode(e.Code)
}

var errTooManyRedirects = errors.New("stopped after too many redirects")

// classifyTransport turns an error from http.Client.Do into a RequestError.
func classifyTransport(err error) *RequestError {
	if errors.Is(err, errTooManyRedirects) {
		return &RequestError{Kind: KindRedirect, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &RequestError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestError{Kind: KindTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &RequestError{Kind: KindConnect, Err: err}
	}
	return &RequestError{Kind: KindUnknown, Err: err}
}
