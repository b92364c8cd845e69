package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/folio-hub/folio/internal/cache"
)

// Handler 处理一个生命周期事件，需要异步工作时通过 ev.WaitUntil 声明。
type Handler func(ev *Event)

// ErrNoResponse 表示 fetch 事件没有任何 handler 调用 RespondWith。
var ErrNoResponse = errors.New("fetch event not handled")

// Dispatcher 将事件类型映射到 handler 列表，按注册顺序调用。
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewDispatcher 创建空的派发器。
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventType][]Handler)}
}

// On 注册事件处理函数，相当于 self.addEventListener。
func (d *Dispatcher) On(typ EventType, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = append(d.handlers[typ], h)
}

// Handles 返回是否存在该类型的 handler。
func (d *Dispatcher) Handles(typ EventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[typ]) > 0
}

// Dispatch 派发 install/activate 等可延长事件，并等待所有 WaitUntil 完成。
func (d *Dispatcher) Dispatch(ctx context.Context, typ EventType) error {
	ev := newEvent(ctx, typ, nil)
	d.invoke(ev)
	return ev.wait()
}

// DispatchFetch 派发 fetch 事件。若有 handler 调用了 RespondWith，返回其结果；
// 否则返回 ErrNoResponse，由宿主决定回落到网络。WaitUntil 的错误不影响响应。
func (d *Dispatcher) DispatchFetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	ev := newEvent(ctx, EventFetch, req)
	d.invoke(ev)

	responder := ev.takeResponder()
	if responder == nil {
		_ = ev.wait()
		return nil, ErrNoResponse
	}

	resp, err := responder(ctx)
	_ = ev.wait()
	return resp, err
}

func (d *Dispatcher) invoke(ev *Event) {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[ev.Type]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
