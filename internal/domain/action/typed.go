package action

import (
	"context"
	"fmt"
)

// Typed adapts a strongly typed function into a Handler. The input produced
// by the action's schema must be an I (schema.Struct[I] produces exactly that).
func Typed[I, O any](fn func(ctx context.Context, input I, actx *Context) (O, error)) Handler {
	return func(ctx context.Context, input any, actx *Context) (any, error) {
		in, ok := input.(I)
		if !ok {
			var zero I
			return nil, fmt.Errorf("handler expects input %T, got %T", zero, input)
		}
		return fn(ctx, in, actx)
	}
}
