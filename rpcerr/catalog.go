package rpcerr

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
)

// Entry is the pair of messages registered for a code.
type Entry struct {
	DeveloperMessage string `json:"developerMessage"`
	UserMessage      string `json:"userMessage"`
}

// Catalog is an immutable code → messages table. Build one at startup and hand
// it to the services and clients that need it.
type Catalog struct {
	entries map[int]Entry
}

func NewCatalog(entries map[int]Entry) *Catalog {
	c := &Catalog{entries: make(map[int]Entry, len(entries))}
	for code, e := range entries {
		c.entries[code] = e
	}
	return c
}

// DefaultCatalog returns a catalog covering the codes the runtime itself emits.
func DefaultCatalog() *Catalog {
	codes := []int{400, 401, 403, 404, 405, 408, 409, 422, 429, 500, 501, 502, 503, 504}
	entries := make(map[int]Entry, len(codes))
	for _, code := range codes {
		entries[code] = Entry{
			DeveloperMessage: http.StatusText(code),
			UserMessage:      userMessage(code),
		}
	}
	return NewCatalog(entries)
}

func userMessage(code int) string {
	switch {
	case code == 404:
		return "The requested resource was not found."
	case code == 429:
		return "Too many requests, please try again later."
	case code >= 400 && code < 500:
		return "The request could not be processed."
	default:
		return "An internal error occurred, please try again later."
	}
}

// LoadCatalog reads a JSON object keyed by code:
//
//	{"404": {"developerMessage": "...", "userMessage": "..."}}
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var raw map[string]Entry
	if err := sonic.ConfigStd.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("rpcerr: decode catalog: %w", err)
	}
	entries := make(map[int]Entry, len(raw))
	for key, e := range raw {
		code, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("rpcerr: invalid code %q: %w", key, err)
		}
		entries[code] = e
	}
	return NewCatalog(entries), nil
}

// Lookup returns the messages registered for code.
func (c *Catalog) Lookup(code int) (Entry, bool) {
	e, ok := c.entries[code]
	return e, ok
}

// New builds the error registered for code. Unknown codes are an error.
func (c *Catalog) New(code int) (*Error, error) {
	e, ok := c.entries[code]
	if !ok {
		return nil, fmt.Errorf("rpcerr: unknown error code %d", code)
	}
	return &Error{Code: code, DeveloperMessage: e.DeveloperMessage, UserMessage: e.UserMessage}, nil
}

// WithMessage builds the error for code with a specific developer message.
// Unknown codes fall back to the 500 entry's user message.
func (c *Catalog) WithMessage(code int, developerMessage string) *Error {
	e, ok := c.entries[code]
	if !ok {
		e = c.entries[500]
	}
	return &Error{Code: code, DeveloperMessage: developerMessage, UserMessage: e.UserMessage}
}

// Internal is the generic 500 error replied for failures that are not Errors.
func (c *Catalog) Internal() *Error {
	if err, lookupErr := c.New(500); lookupErr == nil {
		return err
	}
	return &Error{Code: 500, DeveloperMessage: "Internal Server Error", UserMessage: userMessage(500)}
}

// FromReply converts an error reply into an Error, preferring the messages in
// the payload and falling back to the catalog entry for status.
func (c *Catalog) FromReply(status int, payload any) *Error {
	if err, perr := FromPayload(status, payload); perr == nil {
		return err
	}
	if err, lerr := c.New(status); lerr == nil {
		return err
	}
	return c.WithMessage(status, fmt.Sprintf("unexpected reply status %d", status))
}
