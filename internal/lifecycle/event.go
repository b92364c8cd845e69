package lifecycle

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/folio-hub/folio/internal/cache"
)

// EventType 标识宿主派发的生命周期事件。
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
)

// Responder 产出 fetch 事件的最终响应。
type Responder func(ctx context.Context) (*cache.Response, error)

// Event 是一次派发中传给 handler 的事件对象。WaitUntil 注册的函数会被宿主等待，
// 对应浏览器中 event.waitUntil(promise) 延长 worker 生命周期的约定。
type Event struct {
	Type EventType
	// Request 仅在 fetch 事件中非空。
	Request *http.Request

	ctx   context.Context
	group *errgroup.Group

	mu        sync.Mutex
	responder Responder
}

func newEvent(ctx context.Context, typ EventType, req *http.Request) *Event {
	group, gctx := errgroup.WithContext(ctx)
	return &Event{
		Type:    typ,
		Request: req,
		ctx:     gctx,
		group:   group,
	}
}

// Context 返回事件上下文；任一 WaitUntil 函数失败后该上下文会被取消。
func (e *Event) Context() context.Context {
	return e.ctx
}

// WaitUntil 延长事件生命周期直到 fn 返回，fn 的错误会成为本次派发的结果。
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	e.group.Go(func() error {
		return fn(e.ctx)
	})
}

// RespondWith 为 fetch 事件指定响应来源，只有第一次调用生效，返回是否被采纳。
func (e *Event) RespondWith(fn Responder) bool {
	if e.Type != EventFetch || fn == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responder != nil {
		return false
	}
	e.responder = fn
	return true
}

func (e *Event) takeResponder() Responder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responder
}

func (e *Event) wait() error {
	return e.group.Wait()
}
