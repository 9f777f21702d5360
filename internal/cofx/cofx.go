// Package cofx injects coeffects into an event's context.
//
// A coeffect is an input the handler needs that does not come from the
// event itself: the current db, the time, a fresh id. Handlers declare them
// by adding Inject interceptors to their chain; the injector runs in the
// Before phase and writes into the context's Coeffects.
package cofx

import (
	"fmt"
	"time"

	"github.com/roach88/signalbox/internal/appdb"
	"github.com/roach88/signalbox/internal/interceptor"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/rterr"
)

// Handler adds one coeffect. arg is the optional value given to Inject.
type Handler func(cofx interceptor.Coeffects, arg any) (interceptor.Coeffects, error)

// Register stores h under kind, replacing any previous injector.
func Register(reg *registrar.Registrar, kind ir.Keyword, h Handler) {
	reg.Register(registrar.KindCofx, kind, h)
}

// Inject returns an interceptor that runs the injector registered for kind.
// The injector is resolved when the event runs, so registration order does
// not matter. An unregistered kind is reported on the error channel and
// skipped.
func Inject(reg *registrar.Registrar, logs *loggers.Loggers, kind ir.Keyword, arg ...any) *interceptor.Interceptor {
	var a any
	if len(arg) > 0 {
		a = arg[0]
	}
	return &interceptor.Interceptor{
		ID: "coeffects " + kind.String(),
		Before: func(ctx *interceptor.Context) error {
			h, ok := reg.Get(registrar.KindCofx, kind)
			if !ok {
				err := rterr.New(rterr.CodeUnknownCoeffect, "no coeffect handler registered").WithKind(kind.String())
				logs.Error("coeffect skipped", "error", err)
				return nil
			}
			out, err := h.(Handler)(ctx.Coeffects, a)
			if err != nil {
				return fmt.Errorf("coeffect %s: %w", kind, err)
			}
			ctx.Coeffects = out
			return nil
		},
	}
}

// InjectDB is the first interceptor of every event chain. It snapshots the
// store into the db coeffect.
func InjectDB(store *appdb.Store) *interceptor.Interceptor {
	return &interceptor.Interceptor{
		ID: "coeffects :db",
		Before: func(ctx *interceptor.Context) error {
			ctx.Coeffects[interceptor.KeyDB] = store.Get()
			return nil
		},
	}
}

// Clock supplies the current time for the now coeffect.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Now returns a handler that stores the current time, in Unix milliseconds
// as an ir.Int, under "now".
func Now(clock Clock) Handler {
	return func(c interceptor.Coeffects, _ any) (interceptor.Coeffects, error) {
		c["now"] = ir.Int(clock.Now().UnixMilli())
		return c, nil
	}
}

// UUID returns a handler that stores a fresh id from gen under "uuid".
func UUID(gen Generator) Handler {
	return func(c interceptor.Coeffects, _ any) (interceptor.Coeffects, error) {
		c["uuid"] = ir.String(gen.Generate())
		return c, nil
	}
}

// RegisterBuiltins registers the now and uuid coeffects.
func RegisterBuiltins(reg *registrar.Registrar, clock Clock, gen Generator) {
	Register(reg, "now", Now(clock))
	Register(reg, "uuid", UUID(gen))
}
