package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/signalbox/internal/interceptor"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/rterr"
)

func injectDB(db any) *interceptor.Interceptor {
	return &interceptor.Interceptor{ID: "inject-db", Before: func(ctx *interceptor.Context) error {
		ctx.Coeffects[interceptor.KeyDB] = db
		return nil
	}}
}

func TestDBHandler_WritesDBEffect(t *testing.T) {
	reg := registrar.New(nil)
	inc := DBHandlerInterceptor(func(db any, ev ir.Vector) (any, error) {
		return db.(ir.Int) + ev[1].(ir.Int), nil
	})
	Register(reg, "inc", []*interceptor.Interceptor{injectDB(ir.Int(1)), inc})

	ctx, err := Handle(reg, ir.Ev("inc", ir.Int(2)))
	require.NoError(t, err)

	assert.Equal(t, interceptor.Effects{"db": ir.Int(3)}, ctx.Effects)
}

func TestFxHandler_MergesEffects(t *testing.T) {
	reg := registrar.New(nil)
	h := FxHandlerInterceptor(func(cofx interceptor.Coeffects, ev ir.Vector) (interceptor.Effects, error) {
		return interceptor.Effects{
			"db":       cofx["db"],
			"dispatch": ir.Ev("next"),
		}, nil
	})
	Register(reg, "go", []*interceptor.Interceptor{injectDB(ir.String("s")), h})

	ctx, err := Handle(reg, ir.Ev("go"))
	require.NoError(t, err)

	assert.Equal(t, ir.String("s"), ctx.Effects["db"])
	assert.Equal(t, ir.Ev("next"), ctx.Effects["dispatch"])
}

func TestCtxHandler(t *testing.T) {
	reg := registrar.New(nil)
	h := CtxHandlerInterceptor(func(ctx *interceptor.Context) error {
		ctx.Effects["custom"] = ctx.Event()
		return nil
	})
	Register(reg, "c", []*interceptor.Interceptor{h})

	ctx, err := Handle(reg, ir.Ev("c"))
	require.NoError(t, err)
	assert.Equal(t, ir.Ev("c"), ctx.Effects["custom"])
}

func TestHandle_HandlerError(t *testing.T) {
	reg := registrar.New(nil)
	h := DBHandlerInterceptor(func(any, ir.Vector) (any, error) {
		return nil, errors.New("invalid todo")
	})
	Register(reg, "bad", []*interceptor.Interceptor{h})

	_, err := Handle(reg, ir.Ev("bad"))
	require.Error(t, err)
	assert.True(t, rterr.IsHandlerFailed(err))
	assert.Contains(t, err.Error(), "invalid todo")
}

func TestHandle_UnknownEvent(t *testing.T) {
	reg := registrar.New(nil)

	_, err := Handle(reg, ir.Ev("missing"))
	assert.True(t, rterr.IsUnknownEvent(err))
	assert.Contains(t, err.Error(), "event=:missing")

	_, err = Handle(reg, ir.V(ir.String("not-a-keyword")))
	assert.True(t, rterr.IsUnknownEvent(err))
	assert.ErrorIs(t, err, ir.ErrEventID)
}

func TestRegister_CopiesChain(t *testing.T) {
	reg := registrar.New(nil)
	chain := []*interceptor.Interceptor{{ID: "a"}}
	Register(reg, "x", chain)

	chain[0] = &interceptor.Interceptor{ID: "mutated"}

	got, ok := Lookup(reg, "x")
	require.True(t, ok)
	assert.Equal(t, "a", got[0].ID)
}
