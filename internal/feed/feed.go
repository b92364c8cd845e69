// Package feed generates the decorative market data behind the dashboard demo.
// Nothing here is real: a random walk drives the chart, sectors drift, ticker
// prices jitter and the portfolio value follows the walk. State lives only in
// memory and is replaced on every tick.
package feed

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Options 控制模拟行情的参数。
type Options struct {
	Interval     time.Duration
	ChartPoints  int
	ChartStep    float64
	InitialValue float64
	Symbols      []string
	Sectors      []string
	// Seed 非零时生成确定性的序列，便于测试。
	Seed uint64
}

// Sector 是某个板块当前的涨跌幅（百分比）。
type Sector struct {
	Name   string          `json:"name"`
	Change decimal.Decimal `json:"change"`
}

// Ticker 是某只股票的最新价格与相对上一 tick 的变化。
type Ticker struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Delta         decimal.Decimal `json:"delta"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// Snapshot 是某一 tick 的完整状态，发布后不再修改。
type Snapshot struct {
	Tick           uint64            `json:"tick"`
	At             time.Time         `json:"at"`
	Chart          []decimal.Decimal `json:"chart"`
	Sectors        []Sector          `json:"sectors"`
	Tickers        []Ticker          `json:"tickers"`
	PortfolioValue decimal.Decimal   `json:"portfolio_value"`
	PortfolioText  string            `json:"portfolio_display"`
}

// Feed 在单个 goroutine 中按固定周期生成 Snapshot；tick 之间不会重叠。
type Feed struct {
	opts   Options
	rng    *rand.Rand
	logger *logrus.Logger
	now    func() time.Time

	mu          sync.RWMutex
	latest      Snapshot
	subscribers map[chan Snapshot]struct{}
	stopped     bool

	// 以下状态只在生成 goroutine 中访问
	tick    uint64
	chart   []float64
	sectors []float64
	prices  []float64
	value   float64
}

const (
	sectorDrift     = 0.5
	tickerDrift     = 2.0
	valueMultiplier = 100.0
	chartStart      = 100.0
	priceStart      = 100.0
)

// New 构造 Feed 并生成初始快照（tick 0）。
func New(opts Options, logger *logrus.Logger) (*Feed, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("feed interval must be positive")
	}
	if opts.ChartPoints <= 0 {
		return nil, errors.New("feed chart points must be positive")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	f := &Feed{
		opts:        opts,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[chan Snapshot]struct{}),
		chart:       []float64{chartStart},
		sectors:     make([]float64, len(opts.Sectors)),
		prices:      make([]float64, len(opts.Symbols)),
		value:       opts.InitialValue,
	}
	for i := range f.prices {
		f.prices[i] = priceStart + float64(i)*25
	}
	f.publish(f.snapshot(make([]float64, len(f.prices))))
	return f, nil
}

// Run 阻塞运行直到 ctx 取消。
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	f.logger.WithFields(logrus.Fields{
		"action":   "feed_start",
		"interval": f.opts.Interval.String(),
		"symbols":  len(f.opts.Symbols),
	}).Info("feed_started")

	for {
		select {
		case <-ctx.Done():
			f.closeSubscribers()
			f.logger.WithField("action", "feed_stop").Info("feed_stopped")
			return
		case <-ticker.C:
			f.Step()
		}
	}
}

// Step 生成下一个 tick 并发布，返回新的快照。Run 之外仅供测试直接驱动。
func (f *Feed) Step() Snapshot {
	f.tick++

	last := f.chart[len(f.chart)-1]
	next := last + (f.rng.Float64()-0.5)*f.opts.ChartStep
	if next < 0 {
		next = 0
	}
	walkDelta := next - last
	f.chart = append(f.chart, next)
	if len(f.chart) > f.opts.ChartPoints {
		f.chart = append([]float64(nil), f.chart[len(f.chart)-f.opts.ChartPoints:]...)
	}

	for i := range f.sectors {
		f.sectors[i] += (f.rng.Float64() - 0.5) * sectorDrift
	}

	deltas := make([]float64, len(f.prices))
	for i := range f.prices {
		delta := (f.rng.Float64() - 0.5) * tickerDrift
		if f.prices[i]+delta < 0 {
			delta = -f.prices[i]
		}
		deltas[i] = delta
		f.prices[i] += delta
	}

	f.value += walkDelta * valueMultiplier
	if f.value < 0 {
		f.value = 0
	}

	snap := f.snapshot(deltas)
	f.publish(snap)
	return snap
}

// Latest 返回最近一次发布的快照。
func (f *Feed) Latest() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

// Subscribe 返回接收后续快照的通道与取消函数。通道有缓冲，消费过慢时丢弃旧 tick。
// Run 退出后再订阅得到的是已关闭的通道。
func (f *Feed) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			if _, ok := f.subscribers[ch]; ok {
				delete(f.subscribers, ch)
				close(ch)
			}
			f.mu.Unlock()
		})
	}
}

func (f *Feed) publish(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = snap
	for ch := range f.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (f *Feed) closeSubscribers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	for ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, ch)
	}
}

func (f *Feed) snapshot(deltas []float64) Snapshot {
	chart := make([]decimal.Decimal, len(f.chart))
	for i, v := range f.chart {
		chart[i] = round2(v)
	}

	sectors := make([]Sector, len(f.opts.Sectors))
	for i, name := range f.opts.Sectors {
		sectors[i] = Sector{Name: name, Change: round2(f.sectors[i])}
	}

	tickers := make([]Ticker, len(f.opts.Symbols))
	for i, symbol := range f.opts.Symbols {
		price := round2(f.prices[i])
		delta := round2(deltas[i])
		change := decimal.Zero
		if prev := price.Sub(delta); prev.IsPositive() {
			change = delta.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
		}
		tickers[i] = Ticker{Symbol: symbol, Price: price, Delta: delta, ChangePercent: change}
	}

	value := round2(f.value)
	return Snapshot{
		Tick:           f.tick,
		At:             f.now().UTC(),
		Chart:          chart,
		Sectors:        sectors,
		Tickers:        tickers,
		PortfolioValue: value,
		PortfolioText:  formatUSD(value),
	}
}

func round2(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// formatUSD 借助 go-money 输出带千分位的美元金额，例如 $1,250,000.00。
func formatUSD(v decimal.Decimal) string {
	cents := v.Shift(2).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}
