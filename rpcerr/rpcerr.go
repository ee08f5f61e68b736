// Package rpcerr holds the errors that cross the wire. An Error carries an
// HTTP-like code (4xx caller fault, 5xx internal fault), a developer message
// and a message fit to show end users.
package rpcerr

import (
	"errors"
	"fmt"

	"zss/message"
)

type Error struct {
	Code             int
	DeveloperMessage string
	UserMessage      string
}

func (e *Error) Error() string {
	return e.DeveloperMessage
}

// IsClientError reports whether the caller caused the error.
func (e *Error) IsClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// Payload is the reply payload sent for this error.
func (e *Error) Payload() message.Values {
	return message.Values{
		"errorCode":        e.Code,
		"userMessage":      e.UserMessage,
		"developerMessage": e.DeveloperMessage,
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FromPayload builds an error out of a reply payload carrying userMessage and
// developerMessage. It fails when the payload carries neither.
func FromPayload(code int, payload any) (*Error, error) {
	v, ok := payload.(message.Values)
	if !ok {
		if m, isMap := payload.(map[string]any); isMap {
			v, ok = message.Values(m), true
		}
	}
	if !ok || (!v.Has("userMessage") && !v.Has("developerMessage")) {
		return nil, fmt.Errorf("rpcerr: no error payload for code %d", code)
	}
	return &Error{
		Code:             code,
		DeveloperMessage: v.String("developerMessage"),
		UserMessage:      v.String("userMessage"),
	}, nil
}
