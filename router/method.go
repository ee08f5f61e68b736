package router

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"zss/message"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
	valuesType  = reflect.TypeOf(message.Values(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// RegisterMethod binds verb to a method of target. The method name defaults to
// the verb in camel case ("PONG/PING" → "PongPing"). Accepted signatures:
//
//	func(ctx context.Context, payload any) (any, error)
//	func(ctx context.Context, payload any, headers message.Values) (any, error)
//
// Anything else fails here, not at dispatch time.
func (r *Router) RegisterMethod(target any, verb string, method ...string) error {
	if target == nil {
		return fmt.Errorf("%w: nil target", ErrInvalidHandler)
	}
	name := MethodName(verb)
	if len(method) > 0 && method[0] != "" {
		name = method[0]
	}

	m := reflect.ValueOf(target).MethodByName(name)
	if !m.IsValid() {
		return fmt.Errorf("%w: %T has no method %s", ErrInvalidHandler, target, name)
	}

	switch fn := m.Interface().(type) {
	case func(context.Context, any) (any, error):
		return r.Register(verb, PayloadFunc(fn))
	case func(context.Context, any, message.Values) (any, error):
		return r.Register(verb, HandlerFunc(fn))
	}

	return fmt.Errorf("%w: %T.%s has signature %s", ErrInvalidHandler, target, name, describe(m.Type()))
}

// MethodName turns a verb into the method name RegisterMethod looks for.
func MethodName(verb string) string {
	var b strings.Builder
	upper := true
	for _, c := range strings.ToLower(verb) {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			upper = true
			continue
		}
		if upper {
			c = unicode.ToUpper(c)
			upper = false
		}
		b.WriteRune(c)
	}
	return b.String()
}

func describe(t reflect.Type) string {
	in := make([]string, t.NumIn())
	for i := range in {
		in[i] = typeName(t.In(i))
	}
	out := make([]string, t.NumOut())
	for i := range out {
		out[i] = typeName(t.Out(i))
	}
	return fmt.Sprintf("func(%s) (%s)", strings.Join(in, ", "), strings.Join(out, ", "))
}

func typeName(t reflect.Type) string {
	switch t {
	case contextType:
		return "context.Context"
	case anyType:
		return "any"
	case valuesType:
		return "message.Values"
	case errorType:
		return "error"
	}
	return t.String()
}
