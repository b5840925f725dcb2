// Package agenterr defines the error taxonomy shared by every component
// of the agent so that the IPC front door can map any failure onto the
// {status:"failure", error, info?} envelope without type-switching on
// underlying library errors.
package agenterr

import (
	"errors"
	"fmt"
)

// Code identifies the class of failure. Names mirror the vocabulary used
// by the original oidc-agent implementation's error constants.
type Code string

const (
	CodeAlloc                  Code = "alloc"
	CodeFileOpen               Code = "file_open"
	CodeFileRead               Code = "file_read"
	CodeFileEOF                Code = "file_eof"
	CodeAuthFail               Code = "auth_fail"
	CodeMissingCredentials     Code = "missing_credentials"
	CodeNoRedirectURI          Code = "no_redirect_uri"
	CodeNoDeviceEndpoint       Code = "no_device_endpoint"
	CodeNoRegistrationEndpoint Code = "no_registration_endpoint"
	CodeNoRevocationEndpoint   Code = "no_revocation_endpoint"
	CodeIdPError               Code = "idp_error"
	CodeNotLoaded              Code = "not_loaded"
	CodeDuplicate              Code = "duplicate"
	CodeNoSuchState            Code = "no_such_state"
	CodeHTTPServerStart        Code = "http_server_start"
	CodeInternalProtocol       Code = "internal_protocol"
)

// Error is the sum type every fallible agent operation returns.
type Error struct {
	Code Code
	Msg  string
	Info string
}

func (e *Error) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Msg, e.Info)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an Error with no hint.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WithInfo attaches a user-facing hint, e.g. "check your issuer".
func WithInfo(code Code, msg, info string) *Error {
	return &Error{Code: code, Msg: msg, Info: info}
}

// Is reports whether err is, or wraps, an *Error of the given code.
func Is(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
