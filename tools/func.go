package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/pkg/schema"
)

// NewFunc returns an auto-executable tool with parameters derived from I.
func NewFunc[I any, O any](name, description string, fn func(context.Context, *I) (*O, error)) (*Definition, error) {
	if fn == nil {
		return nil, errors.Newf("tool %s: nil function", name)
	}
	def, err := NewConfirmable[I](name, description)
	if err != nil {
		return nil, err
	}
	def.Execute = func(ctx context.Context, args map[string]any) (any, error) {
		in, err := DecodeArgs[I](args)
		if err != nil {
			return nil, err
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return def, nil
}

// NewConfirmable returns a schema only tool with parameters derived from I.
// Such tool runs only after a user approved the call.
func NewConfirmable[I any](name, description string) (*Definition, error) {
	if name == "" {
		return nil, errors.New("tool name is required")
	}
	sc, err := schema.New(reflect.TypeFor[I]())
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %s", name)
	}
	return &Definition{
		Name:        name,
		Description: description,
		Parameters:  sc.Parameters,
	}, nil
}

// MustFunc is NewFunc that panics on error
func MustFunc[I any, O any](name, description string, fn func(context.Context, *I) (*O, error)) *Definition {
	d, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return d
}

// MustConfirmable is NewConfirmable that panics on error
func MustConfirmable[I any](name, description string) *Definition {
	d, err := NewConfirmable[I](name, description)
	if err != nil {
		panic(err)
	}
	return d
}

// DecodeArgs converts invocation arguments to I
func DecodeArgs[I any](args map[string]any) (*I, error) {
	in := new(I)
	if len(args) == 0 {
		return in, nil
	}
	js, err := json.Marshal(args)
	if err != nil {
		return nil, errors.WithMessage(chatmodel.ErrInvalidArguments, err.Error())
	}
	if err = json.Unmarshal(js, in); err != nil {
		return nil, errors.WithMessage(chatmodel.ErrInvalidArguments, err.Error())
	}
	return in, nil
}
