package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/folio-hub/folio/internal/cache"
)

// State 描述某个版本在注册中的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ErrInstallFailed 表示新版本安装失败，旧版本继续提供服务。
var ErrInstallFailed = errors.New("install failed")

// Script 是一个可部署的 worker 版本：声明缓存名并向派发器注册 handler。
type Script interface {
	CacheName() string
	Register(d *Dispatcher)
}

// Source 标记响应来自缓存还是网络。
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Result 是一次 Serve 的结果。
type Result struct {
	Response  *cache.Response
	Source    Source
	CacheName string
	VersionID string
}

// Transition 记录一次状态变化，供诊断接口输出。
type Transition struct {
	VersionID string    `json:"version_id"`
	CacheName string    `json:"cache_name"`
	State     State     `json:"state"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

// VersionInfo 是版本的只读快照。
type VersionInfo struct {
	ID          string    `json:"id"`
	CacheName   string    `json:"cache_name"`
	State       State     `json:"state"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Status 汇总注册当前状态。
type Status struct {
	Active  *VersionInfo `json:"active,omitempty"`
	History []Transition `json:"history"`
}

type version struct {
	id          string
	script      Script
	dispatcher  *Dispatcher
	state       State
	activatedAt time.Time
}

const maxHistory = 64

// Registration 持有当前激活版本。Deploy 串行执行，Serve 可并发调用。
type Registration struct {
	network Fetcher
	logger  *logrus.Logger
	now     func() time.Time

	deployMu sync.Mutex

	mu      sync.RWMutex
	active  *version
	history []Transition
}

// NewRegistration 创建没有激活版本的注册；此时所有请求直接走网络。
func NewRegistration(network Fetcher, logger *logrus.Logger) *Registration {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registration{
		network: network,
		logger:  logger,
		now:     time.Now,
	}
}

// Deploy 安装并激活新版本。安装失败时新版本被丢弃，返回包装了 ErrInstallFailed 的错误，
// 之前的激活版本不受影响；激活阶段的错误只记录日志，不阻止版本生效。
func (r *Registration) Deploy(ctx context.Context, script Script) error {
	if script == nil {
		return errors.New("script is required")
	}
	r.deployMu.Lock()
	defer r.deployMu.Unlock()

	v := &version{
		id:         uuid.NewString(),
		script:     script,
		dispatcher: NewDispatcher(),
		state:      StateParsed,
	}
	script.Register(v.dispatcher)

	fields := logrus.Fields{
		"action":     "deploy",
		"cache":      script.CacheName(),
		"version_id": v.id,
	}

	r.transition(v, StateInstalling, nil)
	if err := v.dispatcher.Dispatch(ctx, EventInstall); err != nil {
		r.transition(v, StateRedundant, err)
		r.logger.WithFields(fields).WithError(err).Warn("install_failed")
		return fmt.Errorf("%w: %s: %w", ErrInstallFailed, script.CacheName(), err)
	}
	r.transition(v, StateInstalled, nil)

	r.transition(v, StateActivating, nil)
	if err := v.dispatcher.Dispatch(ctx, EventActivate); err != nil {
		r.logger.WithFields(fields).WithError(err).Warn("activate_handler_failed")
	}

	r.mu.Lock()
	previous := r.active
	v.activatedAt = r.now().UTC()
	r.active = v
	r.mu.Unlock()

	r.transition(v, StateActivated, nil)
	if previous != nil {
		r.transition(previous, StateRedundant, nil)
		fields["previous_cache"] = previous.script.CacheName()
	}
	r.logger.WithFields(fields).Info("version_activated")
	return nil
}

// Serve 将请求作为 fetch 事件派发给激活版本；无激活版本或无人响应时直接访问网络。
func (r *Registration) Serve(ctx context.Context, req *http.Request) (*Result, error) {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()

	if active == nil || !active.dispatcher.Handles(EventFetch) {
		return r.fromNetwork(ctx, req, active)
	}

	resp, err := active.dispatcher.DispatchFetch(ctx, req)
	if errors.Is(err, ErrNoResponse) {
		return r.fromNetwork(ctx, req, active)
	}
	if err != nil {
		return nil, err
	}

	if resp == nil {
		return r.fromNetwork(ctx, req, active)
	}
	source := SourceNetwork
	if resp.Cached {
		source = SourceCache
	}
	return &Result{
		Response:  resp,
		Source:    source,
		CacheName: active.script.CacheName(),
		VersionID: active.id,
	}, nil
}

func (r *Registration) fromNetwork(ctx context.Context, req *http.Request, active *version) (*Result, error) {
	resp, err := FetchNetwork(ctx, r.network, req)
	if err != nil {
		return nil, err
	}
	result := &Result{Response: resp, Source: SourceNetwork}
	if active != nil {
		result.CacheName = active.script.CacheName()
		result.VersionID = active.id
	}
	return result, nil
}

// Active 返回当前激活版本的快照。
func (r *Registration) Active() (VersionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return VersionInfo{}, false
	}
	return r.active.info(), true
}

// CacheName 返回当前激活版本的缓存名，无激活版本时返回空串。
func (r *Registration) CacheName() string {
	info, ok := r.Active()
	if !ok {
		return ""
	}
	return info.CacheName
}

// Status 返回激活版本与最近的状态变化。
func (r *Registration) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := Status{History: append([]Transition(nil), r.history...)}
	if r.active != nil {
		info := r.active.info()
		status.Active = &info
	}
	return status
}

func (r *Registration) transition(v *version, state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v.state = state
	t := Transition{
		VersionID: v.id,
		CacheName: v.script.CacheName(),
		State:     state,
		At:        r.now().UTC(),
	}
	if err != nil {
		t.Error = err.Error()
	}
	r.history = append(r.history, t)
	if len(r.history) > maxHistory {
		r.history = append([]Transition(nil), r.history[len(r.history)-maxHistory:]...)
	}
}

func (v *version) info() VersionInfo {
	return VersionInfo{
		ID:          v.id,
		CacheName:   v.script.CacheName(),
		State:       v.state,
		ActivatedAt: v.activatedAt,
	}
}
