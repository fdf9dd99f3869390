package importer

import (
	"context"

	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

// Listener method names passed to a Boundary.
const (
	MethodOnStart    = "OnStart"
	MethodOnProgress = "OnProgress"
	MethodOnWarning  = "OnWarning"
	MethodOnError    = "OnError"
	MethodOnFinished = "OnFinished"
)

// Boundary brackets each listener notification. When Begin fails the
// notification is skipped, End still runs and sees the Begin error.
type Boundary interface {
	Begin(ctx context.Context, method string) error
	End(ctx context.Context, method string, err error) error
}

type NopBoundary struct{}

func (NopBoundary) Begin(context.Context, string) error      { return nil }
func (NopBoundary) End(context.Context, string, error) error { return nil }

// bounded delivers listener calls inside a Boundary. Boundary failures are
// logged and never reach the processor.
type bounded struct {
	ctx context.Context
	l   StatusListener
	b   Boundary
	log logx.Logger
}

func withBoundary(ctx context.Context, l StatusListener, b Boundary, log logx.Logger) StatusListener {
	if b == nil {
		return l
	}
	if _, ok := b.(NopBoundary); ok {
		return l
	}
	return &bounded{ctx: ctx, l: l, b: b, log: log}
}

func (b *bounded) deliver(method string, fn func()) {
	err := b.b.Begin(b.ctx, method)
	if err != nil {
		b.log.Error("listener boundary begin failed", logx.String("method", method), logx.Err(err))
	} else {
		fn()
	}
	if endErr := b.b.End(b.ctx, method, err); endErr != nil {
		b.log.Error("listener boundary end failed", logx.String("method", method), logx.Err(endErr))
	}
}

func (b *bounded) OnStart(id string) {
	b.deliver(MethodOnStart, func() { b.l.OnStart(id) })
}

func (b *bounded) OnProgress(id string, payload any) {
	b.deliver(MethodOnProgress, func() { b.l.OnProgress(id, payload) })
}

func (b *bounded) OnWarning(id, msg string, args ...any) {
	b.deliver(MethodOnWarning, func() { b.l.OnWarning(id, msg, args...) })
}

// OnError keeps going when the notification could not be delivered.
func (b *bounded) OnError(id, msg string, args ...any) bool {
	goOn := true
	b.deliver(MethodOnError, func() { goOn = b.l.OnError(id, msg, args...) })
	return goOn
}

func (b *bounded) OnFinished(id string) {
	b.deliver(MethodOnFinished, func() { b.l.OnFinished(id) })
}
