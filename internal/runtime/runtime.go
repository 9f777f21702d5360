// Package runtime wires the store, registries, router and subscription
// graph into one isolated instance and exposes the application API.
//
// Thread-safety model:
//   - Dispatch: safe from any goroutine, including event handlers
//   - DispatchSync: startup and test code only; fails inside an event
//   - Reg*: expected at startup; registering while events drain may race
//     with handler lookup and is unsupported
//   - Subscribe, Deref, Dispose: safe from any goroutine
//
// Several runtimes can coexist; nothing is package-global.
package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/roach88/signalbox/internal/appdb"
	"github.com/roach88/signalbox/internal/cofx"
	"github.com/roach88/signalbox/internal/events"
	"github.com/roach88/signalbox/internal/fx"
	"github.com/roach88/signalbox/internal/interceptor"
	"github.com/roach88/signalbox/internal/ir"
	"github.com/roach88/signalbox/internal/loggers"
	"github.com/roach88/signalbox/internal/registrar"
	"github.com/roach88/signalbox/internal/router"
	"github.com/roach88/signalbox/internal/subs"
)

// ErrNoLoop is returned by Run and Settle when the runtime was created with
// an external scheduler.
var ErrNoLoop = errors.New("runtime has an external scheduler")

// Runtime is one application instance.
type Runtime struct {
	logs      *loggers.Loggers
	reg       *registrar.Registrar
	store     *appdb.Store
	exec      *fx.Executor
	router    *router.Router
	graph     *subs.Graph
	loop      *router.Loop
	scheduler router.Scheduler
	timer     *trackedTimer
	clock     cofx.Clock
	ids       cofx.Generator
	unit      time.Duration
	initial   any
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLoggers sets the log channels. Default: slog.Default on every channel.
func WithLoggers(l *loggers.Loggers) Option {
	return func(rt *Runtime) { rt.logs = l }
}

// WithScheduler drains the router on s instead of the runtime's own Loop.
func WithScheduler(s router.Scheduler) Option {
	return func(rt *Runtime) { rt.scheduler = s }
}

// WithTimer sets the timer behind dispatch-later. Default: fx.RealTimer.
func WithTimer(t fx.Timer) Option {
	return func(rt *Runtime) { rt.timer = &trackedTimer{inner: t} }
}

// WithClock sets the clock behind the now coeffect.
func WithClock(c cofx.Clock) Option {
	return func(rt *Runtime) { rt.clock = c }
}

// WithIDGenerator sets the generator behind the uuid coeffect.
//
// Default: cofx.UUIDv7Generator.
// Use cofx.NewFixedGenerator in tests.
func WithIDGenerator(g cofx.Generator) Option {
	return func(rt *Runtime) { rt.ids = g }
}

// WithDB sets the initial store value. Default: an empty ir.Map.
func WithDB(db any) Option {
	return func(rt *Runtime) { rt.initial = db }
}

// WithDelayUnit sets the length of one dispatch-later delay unit.
// Default: time.Millisecond.
func WithDelayUnit(d time.Duration) Option {
	return func(rt *Runtime) { rt.unit = d }
}

// New creates a runtime with the built-in effects and coeffects
// registered.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		timer:   &trackedTimer{inner: fx.RealTimer{}},
		clock:   cofx.SystemClock{},
		ids:     cofx.UUIDv7Generator{},
		unit:    time.Millisecond,
		initial: ir.Map{},
	}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.logs == nil {
		rt.logs = loggers.New(nil)
	}
	if rt.scheduler == nil {
		rt.loop = router.NewLoop(rt.logs)
		rt.scheduler = rt.loop
	}

	rt.reg = registrar.New(rt.logs)
	rt.store = appdb.New(rt.initial)
	rt.exec = fx.NewExecutor(rt.reg, rt.logs)
	rt.router = router.New(rt.handle, rt.scheduler, rt.logs)
	rt.graph = subs.New(rt.reg, rt.store, rt.logs)

	rt.exec.RegisterBuiltins(fx.Builtins{
		Store:      rt.store,
		Dispatcher: rt.router,
		Timer:      rt.timer,
		Unit:       rt.unit,
	})
	cofx.RegisterBuiltins(rt.reg, rt.clock, rt.ids)

	return rt
}

func (rt *Runtime) handle(ev ir.Vector) error {
	_, err := events.Handle(rt.reg, ev)
	return err
}

// Loggers returns the runtime's log channels.
func (rt *Runtime) Loggers() *loggers.Loggers { return rt.logs }

// Registrar returns the runtime's handler registry.
func (rt *Runtime) Registrar() *registrar.Registrar { return rt.reg }

// DB returns the current store value.
func (rt *Runtime) DB() any { return rt.store.Get() }

// Store returns the store cell.
func (rt *Runtime) Store() *appdb.Store { return rt.store }

// State returns the router's drain state.
func (rt *Runtime) State() router.State { return rt.router.State() }

// PendingTimers returns the number of dispatch-later timers that have not
// fired yet.
func (rt *Runtime) PendingTimers() int { return int(rt.timer.pending.Load()) }

// chain builds the standard chain around a terminal interceptor.
func (rt *Runtime) chain(interceptors []*interceptor.Interceptor, terminal *interceptor.Interceptor) []*interceptor.Interceptor {
	c := make([]*interceptor.Interceptor, 0, len(interceptors)+3)
	c = append(c, cofx.InjectDB(rt.store), rt.exec.Interceptor())
	c = append(c, interceptors...)
	return append(c, terminal)
}

// RegEventDB registers a handler that returns the new db.
func (rt *Runtime) RegEventDB(id ir.Keyword, h events.DBHandler, interceptors ...*interceptor.Interceptor) {
	events.Register(rt.reg, id, rt.chain(interceptors, events.DBHandlerInterceptor(h)))
}

// RegEventFx registers a handler that returns an effects map.
func (rt *Runtime) RegEventFx(id ir.Keyword, h events.FxHandler, interceptors ...*interceptor.Interceptor) {
	events.Register(rt.reg, id, rt.chain(interceptors, events.FxHandlerInterceptor(h)))
}

// RegEventCtx registers a handler that transforms the whole context.
func (rt *Runtime) RegEventCtx(id ir.Keyword, h events.CtxHandler, interceptors ...*interceptor.Interceptor) {
	events.Register(rt.reg, id, rt.chain(interceptors, events.CtxHandlerInterceptor(h)))
}

// ClearEvent removes the handler for id.
func (rt *Runtime) ClearEvent(id ir.Keyword) bool {
	return rt.reg.Clear(registrar.KindEvent, id)
}

// RegFx registers an effect handler.
func (rt *Runtime) RegFx(kind ir.Keyword, h fx.Handler) {
	fx.Register(rt.reg, kind, h)
}

// RegCofx registers a coeffect handler for use with InjectCofx.
func (rt *Runtime) RegCofx(kind ir.Keyword, h cofx.Handler) {
	cofx.Register(rt.reg, kind, h)
}

// InjectCofx returns an interceptor that runs the coeffect handler for
// kind. The handler is looked up when the event runs.
func (rt *Runtime) InjectCofx(kind ir.Keyword, arg ...any) *interceptor.Interceptor {
	return cofx.Inject(rt.reg, rt.logs, kind, arg...)
}

// RegSub registers a subscription. Nodes already live keep their old
// definition until they are disposed.
func (rt *Runtime) RegSub(id ir.Keyword, inputs []subs.Input, compute subs.Compute) {
	subs.Register(rt.reg, id, inputs, compute)
}

// Dispatch queues ev.
func (rt *Runtime) Dispatch(ev ir.Vector) error {
	return rt.router.Dispatch(ev)
}

// DispatchSync runs ev immediately and returns its error.
func (rt *Runtime) DispatchSync(ev ir.Vector) error {
	return rt.router.DispatchSync(ev)
}

// PurgeQueue drops every queued event and returns how many were dropped.
func (rt *Runtime) PurgeQueue() int {
	n := rt.router.Purge()
	if n > 0 {
		rt.logs.Debug("queue purged", "dropped", n)
	}
	return n
}

// Subscribe returns a handle to the subscription for q.
func (rt *Runtime) Subscribe(q ir.Vector) (*subs.Handle, error) {
	return rt.graph.Subscribe(q)
}

// ClearSubscriptionCache disposes every subscription node.
func (rt *Runtime) ClearSubscriptionCache() {
	rt.graph.ClearCache()
}

// Subscriptions returns the queries of the live subscription nodes.
func (rt *Runtime) Subscriptions() []ir.Vector {
	return rt.graph.Queries()
}

// AddPostEventCallback registers fn to run after every event.
func (rt *Runtime) AddPostEventCallback(id string, fn router.PostEventFunc) {
	rt.router.AddPostEventCallback(id, fn)
}

// RemovePostEventCallback removes the callback registered under id.
func (rt *Runtime) RemovePostEventCallback(id string) {
	rt.router.RemovePostEventCallback(id)
}

// SetErrorHandler replaces the handler for queued events that fail. nil
// restores the default, which logs on the error channel.
func (rt *Runtime) SetErrorHandler(fn router.ErrorFunc) {
	rt.router.SetErrorHandler(fn)
}

// MakeRestoreFn captures the store value, the live subscriptions, the
// handler registrations and the log channels. The returned function
// disposes subscriptions created since and restores the rest.
func (rt *Runtime) MakeRestoreFn() func() {
	db := rt.store.Get()
	cp := rt.graph.Checkpoint()
	handlers := rt.reg.Snapshot()
	channels := rt.logs.Snapshot()

	return func() {
		n := rt.graph.Rollback(cp)
		rt.reg.Restore(handlers)
		rt.logs.Set(channels)
		rt.store.Reset(db)
		rt.logs.Debug("restored checkpoint", "disposed", n)
	}
}

// Run drains events on the calling goroutine until ctx is cancelled or
// Close is called.
func (rt *Runtime) Run(ctx context.Context) error {
	if rt.loop == nil {
		return ErrNoLoop
	}
	return rt.loop.Run(ctx)
}

// Settle drains events on the calling goroutine until the queue is empty
// and no dispatch-later timer is pending.
func (rt *Runtime) Settle(ctx context.Context) error {
	if rt.loop == nil {
		return ErrNoLoop
	}
	return rt.loop.RunUntilIdle(ctx, func() bool {
		return rt.timer.pending.Load() > 0 || rt.router.State() != router.Idle
	})
}

// Close stops the loop and detaches the subscription graph from the store.
func (rt *Runtime) Close() {
	if rt.loop != nil {
		rt.loop.Stop()
	}
	rt.graph.Close()
}

// trackedTimer counts callbacks that have been scheduled but not run.
type trackedTimer struct {
	inner   fx.Timer
	pending atomic.Int64
}

func (t *trackedTimer) AfterFunc(d time.Duration, f func()) {
	t.pending.Add(1)
	t.inner.AfterFunc(d, func() {
		defer t.pending.Add(-1)
		f()
	})
}
