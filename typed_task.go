package taskapp

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
)

// ErrTaskPayloadInvalid indicates arguments that do not decode into the
// payload type of a typed task.
var ErrTaskPayloadInvalid = ewrap.New("task payload does not match its type")

// TypedTaskFunc is the body of a task that takes a decoded payload.
type TypedTaskFunc[T any] func(ctx context.Context, payload T) (any, error)

// TypedTask returns spec with a body that decodes the keyword arguments into
// T before calling fn. When no keyword arguments are given and exactly one
// positional argument is, that argument is decoded instead.
func TypedTask[T any](spec TaskSpec, fn TypedTaskFunc[T]) TaskSpec {
	if fn == nil {
		spec.Fn = nil

		return spec
	}

	spec.Fn = func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		payload, err := decodePayload[T](args, kwargs)
		if err != nil {
			return nil, ewrap.Wrapf(err, "task %q", spec.Name)
		}

		return fn(ctx, payload)
	}

	return spec
}

func decodePayload[T any](args []any, kwargs map[string]any) (T, error) {
	var (
		payload T
		source  any = kwargs
	)

	if len(kwargs) == 0 {
		switch len(args) {
		case 0:
			return payload, nil
		case 1:
			source = args[0]
		default:
			return payload, ewrap.Wrapf(ErrTaskPayloadInvalid, "got %d positional arguments", len(args))
		}
	}

	data, err := json.Marshal(source)
	if err != nil {
		return payload, ewrap.Wrap(ErrTaskPayloadInvalid, err.Error())
	}

	err = json.Unmarshal(data, &payload)
	if err != nil {
		return payload, ewrap.Wrap(ErrTaskPayloadInvalid, err.Error())
	}

	return payload, nil
}
