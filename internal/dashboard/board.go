package dashboard

import (
	"sync"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
	"github.com/AIexpert-ig/Grace-dashboard/internal/poller"
)

// Board 保存最新视图：轮询回调写入，HTTP 接口读取
type Board struct {
	mu    sync.RWMutex
	view  *View
	state models.ConnectionState
	now   func() time.Time
}

// BoardOption 看板可选配置
type BoardOption func(*Board)

// WithBoardClock 替换读取时使用的时钟（测试用）
func WithBoardClock(now func() time.Time) BoardOption {
	return func(b *Board) {
		b.now = now
	}
}

// NewBoard 创建看板
func NewBoard(opts ...BoardOption) *Board {
	b := &Board{
		state: models.StateConnecting,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Apply 用一次成功轮询的结果替换当前视图（以该周期的时间戳为 now）
func (b *Board) Apply(update poller.Update) View {
	b.mu.Lock()
	defer b.mu.Unlock()

	view := BuildView(update, models.StateConnected, update.Timestamp)
	b.view = &view
	b.state = models.StateConnected
	return view
}

// SetState 更新连接状态（poller.OnStateChange）
func (b *Board) SetState(state models.ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = state
	if b.view != nil {
		b.view.Connection = state
	}
}

// State 当前连接状态
func (b *Board) State() models.ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Latest 返回最近一次成功轮询的视图；尚无成功轮询时 ok 为 false
// last_updated_label 按读取时刻计算
func (b *Board) Latest() (View, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.view == nil {
		return View{}, false
	}
	return b.view.Refreshed(b.now()), true
}
