// Package events maps event ids to interceptor chains.
package events

import (
	"github.com/roach88/signalbox/internal/interceptor"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/rterr"
)

// DBHandler computes a new db from the current db and the event.
type DBHandler func(db any, ev ir.Vector) (any, error)

// FxHandler computes an effects map from the coeffects and the event.
type FxHandler func(cofx interceptor.Coeffects, ev ir.Vector) (interceptor.Effects, error)

// CtxHandler transforms the whole context.
type CtxHandler func(ctx *interceptor.Context) error

// DBHandlerInterceptor wraps h as the terminal interceptor of a chain. The
// returned db becomes the db effect.
func DBHandlerInterceptor(h DBHandler) *interceptor.Interceptor {
	return &interceptor.Interceptor{
		ID: "db-handler",
		Before: func(ctx *interceptor.Context) error {
			db, err := h(ctx.DB(), ctx.Event())
			if err != nil {
				return err
			}
			ctx.Effects[interceptor.KeyDB] = db
			return nil
		},
	}
}

// FxHandlerInterceptor wraps h as the terminal interceptor of a chain. The
// returned effects are merged into the context's effects.
func FxHandlerInterceptor(h FxHandler) *interceptor.Interceptor {
	return &interceptor.Interceptor{
		ID: "fx-handler",
		Before: func(ctx *interceptor.Context) error {
			effects, err := h(ctx.Coeffects, ctx.Event())
			if err != nil {
				return err
			}
			for k, v := range effects {
				ctx.Effects[k] = v
			}
			return nil
		},
	}
}

// CtxHandlerInterceptor wraps h as the terminal interceptor of a chain.
func CtxHandlerInterceptor(h CtxHandler) *interceptor.Interceptor {
	return &interceptor.Interceptor{
		ID:     "ctx-handler",
		Before: interceptor.Hook(h),
	}
}

// Register stores the full chain for id, replacing any previous chain.
func Register(reg *registrar.Registrar, id ir.Keyword, chain []*interceptor.Interceptor) {
	c := make([]*interceptor.Interceptor, len(chain))
	copy(c, chain)
	reg.Register(registrar.KindEvent, id, c)
}

// Lookup returns the chain registered for id.
func Lookup(reg *registrar.Registrar, id ir.Keyword) ([]*interceptor.Interceptor, bool) {
	h, ok := reg.Get(registrar.KindEvent, id)
	if !ok {
		return nil, false
	}
	chain, ok := h.([]*interceptor.Interceptor)
	return chain, ok
}

// Handle resolves the chain for ev and executes it. An unregistered id
// yields an UNKNOWN_EVENT error and nothing runs.
func Handle(reg *registrar.Registrar, ev ir.Vector) (*interceptor.Context, error) {
	id, err := ir.EventID(ev)
	if err != nil {
		return nil, rterr.New(rterr.CodeUnknownEvent, "invalid event %s", ir.Format(ev)).Wrap(err)
	}
	chain, ok := Lookup(reg, id)
	if !ok {
		return nil, rterr.New(rterr.CodeUnknownEvent, "no handler registered").WithEvent(id.String())
	}
	return interceptor.Execute(ev, chain)
}
