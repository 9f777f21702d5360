// Package fx applies the effects an event handler returns.
//
// Effects are declarative: a handler returns a map of effect kind to value
// and the do-fx interceptor looks up a registered handler for each kind and
// runs it. The db effect is applied first; the remaining kinds run in sorted
// order. Callers should not depend on that order beyond db-first.
//
// A missing handler or a malformed value is reported on the error channel
// and only that entry is skipped. A panicking effect handler aborts the
// event like any other handler failure.
package fx

import (
	"sort"

	"github.com/roach88/signalbox/internal/interceptor"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/rterr"
)

// Handler performs one kind of effect.
type Handler func(value any) error

// Register stores h under kind, replacing any previous handler.
func Register(reg *registrar.Registrar, kind ir.Keyword, h Handler) {
	reg.Register(registrar.KindFx, kind, h)
}

// Executor applies effect maps using the handlers in a registrar.
type Executor struct {
	reg  *registrar.Registrar
	logs *loggers.Loggers
}

// NewExecutor creates an executor reporting through logs.
func NewExecutor(reg *registrar.Registrar, logs *loggers.Loggers) *Executor {
	return &Executor{reg: reg, logs: logs}
}

// Interceptor returns the do-fx interceptor. It belongs near the front of
// every chain so its After hook runs last.
func (e *Executor) Interceptor() *interceptor.Interceptor {
	return &interceptor.Interceptor{
		ID: "do-fx",
		After: func(ctx *interceptor.Context) error {
			e.Apply(ctx.Effects, ctx.OriginalEvent())
			return nil
		},
	}
}

// Apply runs every effect in effects and returns the errors it reported.
func (e *Executor) Apply(effects interceptor.Effects, ev ir.Vector) []error {
	var errs []error
	for _, kind := range order(effects) {
		if err := e.apply(ir.Keyword(kind), effects[kind]); err != nil {
			e.report(kind, ev, err)
			errs = append(errs, err)
		}
	}
	return errs
}

func (e *Executor) apply(kind ir.Keyword, value any) error {
	h, ok := e.reg.Get(registrar.KindFx, kind)
	if !ok {
		return rterr.New(rterr.CodeUnknownEffect, "no effect handler registered").WithKind(kind.String())
	}
	return h.(Handler)(value)
}

func (e *Executor) report(kind string, ev ir.Vector, err error) {
	e.logs.Error("effect skipped",
		"kind", kind,
		"event", ir.Format(ev),
		"error", err,
	)
}

// order returns the effect kinds with db first and the rest sorted.
func order(effects interceptor.Effects) []string {
	kinds := make([]string, 0, len(effects))
	for k := range effects {
		if k != interceptor.KeyDB {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	if _, ok := effects[interceptor.KeyDB]; ok {
		kinds = append([]string{interceptor.KeyDB}, kinds...)
	}
	return kinds
}
