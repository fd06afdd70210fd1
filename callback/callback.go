// Package callback lets native code call methods of host objects.
//
// A host object is registered under a numeric handle and passed to native
// code as that number. Native code invokes a method by handle and method
// index with encoded arguments; the registry answers with a call status code
// and an encoded result. Method index 0 is reserved: it releases the handle,
// for native code that drops its last reference.
package callback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

// FreeMethod is the method index that releases a handle
const FreeMethod uint32 = 0

// Method implements one host method. The returned bytes are the encoded result.
type Method func(ctx context.Context, args *buffer.Reader) ([]byte, error)

// Object is a host implementation of a callback interface. Methods[i] answers
// method index i+1.
type Object struct {
	Name    string
	Methods []Method
}

// Error is a typed error a method reports to native code with CodeError
type Error struct {
	Payload []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("callback error (%d byte payload)", len(e.Payload))
}

// Registry maps handles to host objects
type Registry struct {
	objects *handle.Map[*Object]
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{objects: handle.NewMap[*Object]()}
}

// Register stores obj and returns the handle native code uses for it
func (r *Registry) Register(obj *Object) (uint64, error) {
	if obj == nil {
		return 0, errors.InvalidInput(errors.PhaseCallback, "nil callback object")
	}
	h := r.objects.Insert(obj)
	Logger().Debug("registered callback object", zap.String("object", obj.Name), zap.Uint64("handle", h))
	return h, nil
}

// Release removes h. It reports whether h was registered.
func (r *Registry) Release(h uint64) bool {
	return r.objects.Remove(h)
}

// Len returns the number of registered objects
func (r *Registry) Len() int { return r.objects.Len() }

// Close releases every registered object
func (r *Registry) Close() {
	r.objects.Drain(func(h uint64, obj *Object) {
		Logger().Debug("released callback object on close", zap.String("object", obj.Name), zap.Uint64("handle", h))
	})
}

// Invoke runs method of the object registered under h. Unknown handles and
// methods, unexpected errors and panics are reported as CodePanic with a
// UTF-8 message.
func (r *Registry) Invoke(ctx context.Context, h uint64, method uint32, args []byte) (code call.Code, result []byte) {
	if method == FreeMethod {
		if !r.objects.Remove(h) {
			return r.fail(errors.StaleHandle(errors.PhaseCallback, h))
		}
		return call.CodeSuccess, nil
	}

	obj, err := r.objects.Lookup(h)
	if err != nil {
		return r.fail(err)
	}
	if int(method) > len(obj.Methods) || obj.Methods[method-1] == nil {
		return r.fail(errors.New(errors.PhaseCallback, errors.KindNotFound).
			Symbol(obj.Name).
			Value(method).
			Detail("no method %d", method).
			Build())
	}

	defer func() {
		if p := recover(); p != nil {
			Logger().Error("callback method panicked",
				zap.String("object", obj.Name), zap.Uint32("method", method), zap.Any("panic", p))
			code, result = call.CodePanic, []byte(fmt.Sprint(p))
		}
	}()

	out, err := obj.Methods[method-1](ctx, buffer.NewReader(args))
	if err == nil {
		return call.CodeSuccess, out
	}
	var typed *Error
	if errors.As(err, &typed) {
		return call.CodeError, typed.Payload
	}
	return r.fail(err)
}

func (r *Registry) fail(err error) (call.Code, []byte) {
	Logger().Error("callback failed", zap.Error(err))
	return call.CodePanic, []byte(err.Error())
}
