package dispatch

import (
	"context"
	"sync/atomic"
)

// Token is polled before every job and every send.
type Token interface {
	Cancelled(ctx context.Context) bool
}

// CancelToken is an in-process flag, raised from a signal handler or the progress view.
type CancelToken struct {
	flag atomic.Bool
}

func NewCancelToken() *CancelToken { return &CancelToken{} }

func (t *CancelToken) Cancel() { t.flag.Store(true) }

func (t *CancelToken) Cancelled(context.Context) bool { return t.flag.Load() }

// AnyToken is cancelled once any member is. Nil members are ignored.
type AnyToken []Token

func (a AnyToken) Cancelled(ctx context.Context) bool {
	for _, t := range a {
		if t != nil && t.Cancelled(ctx) {
			return true
		}
	}
	return false
}
