// Package validate holds small helpers for handler input and configuration.
package validate

import (
	"fmt"
	"net/url"
	"strings"

	"zss/message"
	"zss/rpcerr"
)

// Requires fails with a 400 error naming the first attribute that is missing
// or blank in params.
func Requires(catalog *rpcerr.Catalog, params message.Values, attributes ...string) error {
	for _, attr := range attributes {
		val, ok := params.Get(attr)
		if !ok || isBlank(val) {
			return catalog.WithMessage(400, fmt.Sprintf("Invalid parameter '%s'", attr))
		}
	}
	return nil
}

// Permit removes every key of params that does not match one of attributes
// and returns params. Keys match the way Values.Get looks them up, so
// "user_name" keeps "userName".
func Permit(params message.Values, attributes ...string) message.Values {
	allowed := make(map[string]struct{}, len(attributes))
	for _, attr := range attributes {
		allowed[message.NormalizeKey(attr)] = struct{}{}
	}
	for k := range params {
		if _, ok := allowed[message.NormalizeKey(k)]; !ok {
			delete(params, k)
		}
	}
	return params
}

// IsValidURI reports whether uri parses as an absolute URI, e.g. a broker
// endpoint such as "tcp://127.0.0.1:5560".
func IsValidURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return u.IsAbs() && (u.Host != "" || u.Path != "")
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case message.Values:
		return len(t) == 0
	}
	return false
}
