package metrics

import (
	"sort"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
)

// DefaultLeaderboardLimit 排行榜默认展示人数
const DefaultLeaderboardLimit = 10

// HoursPerDay 小时分布的桶数量
const HoursPerDay = 24

// Snapshot 看板 KPI（每次轮询基于完整工单列表重新计算，不做增量修补）
type Snapshot struct {
	AvgTimeToClaim   float64          `json:"avgTimeToClaim"`
	AvgTimeToResolve float64          `json:"avgTimeToResolve"`
	TotalPending     int              `json:"totalPending"`
	TotalInProgress  int              `json:"totalInProgress"`
	TotalResolved    int              `json:"totalResolved"`
	Total            int              `json:"total"`
	ResolutionRate   float64          `json:"resolutionRate"`
	Hourly           [HoursPerDay]int `json:"hourly"`
}

// Compute 计算 KPI。纯函数：相同的输入与 now 得到完全相同的输出
// 小时分布按 now 所在时区计算
func Compute(escalations []models.Escalation, now time.Time) Snapshot {
	var s Snapshot
	var claim, resolve mean

	for i := range escalations {
		e := &escalations[i]
		switch e.Status {
		case models.StatusPending:
			s.TotalPending++
		case models.StatusInProgress:
			s.TotalInProgress++
		case models.StatusResolved:
			s.TotalResolved++
		}
		if d, ok := claimDuration(e); ok {
			claim.add(d)
		}
		if d, ok := resolveDuration(e); ok {
			resolve.add(d)
		}
	}

	s.Total = len(escalations)
	s.AvgTimeToClaim = claim.value()
	s.AvgTimeToResolve = resolve.value()
	s.ResolutionRate = ResolutionRate(s.TotalResolved, s.Total)
	s.Hourly = HourlyHistogram(escalations, now.Location())
	return s
}

// ResolutionRate resolved/total 百分比，total 为 0 时返回 0
func ResolutionRate(resolved, total int) float64 {
	if total <= 0 || resolved <= 0 {
		return 0
	}
	if resolved >= total {
		return 100
	}
	return float64(resolved) * 100 / float64(total)
}

// HourlyHistogram 按创建时间的小时（0-23）统计全部工单，长度固定为 24
func HourlyHistogram(escalations []models.Escalation, loc *time.Location) [HoursPerDay]int {
	var hist [HoursPerDay]int
	if loc == nil {
		loc = time.UTC
	}
	for i := range escalations {
		if ts := escalations[i].CreatedAt; ts != nil && !ts.IsZero() {
			hist[ts.In(loc).Hour()]++
		}
	}
	return hist
}

// Leaderboard 按认领人分组统计认领数和平均处理时长，按认领数降序排列
// 认领数相同时保持在输入中首次出现的顺序；limit <= 0 返回完整排名
func Leaderboard(escalations []models.Escalation, limit int) []models.LeaderboardEntry {
	type group struct {
		claims  int
		resolve mean
	}
	groups := make(map[string]*group)
	order := make([]string, 0)

	for i := range escalations {
		e := &escalations[i]
		if !e.IsClaimed() {
			continue
		}
		g, ok := groups[e.ClaimedBy]
		if !ok {
			g = &group{}
			groups[e.ClaimedBy] = g
			order = append(order, e.ClaimedBy)
		}
		g.claims++
		if d, ok := resolveDuration(e); ok {
			g.resolve.add(d)
		}
	}

	entries := make([]models.LeaderboardEntry, 0, len(order))
	for _, name := range order {
		g := groups[name]
		entries = append(entries, models.LeaderboardEntry{
			Name:              name,
			Claims:            g.claims,
			AvgResolveMinutes: g.resolve.value(),
		})
	}
	return truncate(RankEntries(entries), limit)
}

// RankEntries 对排行榜做稳定排序（认领数降序），返回新切片，不修改入参
func RankEntries(entries []models.LeaderboardEntry) []models.LeaderboardEntry {
	ranked := make([]models.LeaderboardEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Claims > ranked[j].Claims
	})
	return ranked
}

func truncate(entries []models.LeaderboardEntry, limit int) []models.LeaderboardEntry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// claimDuration 认领耗时 = claimed_at - created_at
func claimDuration(e *models.Escalation) (time.Duration, bool) {
	if e.CreatedAt == nil || e.ClaimedAt == nil {
		return 0, false
	}
	return nonNegative(e.ClaimedAt.Sub(*e.CreatedAt)), true
}

// resolveDuration 仅统计 RESOLVED 工单；优先使用 resolved_at，后端未提供时退回 claimed_at
func resolveDuration(e *models.Escalation) (time.Duration, bool) {
	if e.Status != models.StatusResolved || e.CreatedAt == nil {
		return 0, false
	}
	end := e.ResolvedAt
	if end == nil {
		end = e.ClaimedAt
	}
	if end == nil {
		return 0, false
	}
	return nonNegative(end.Sub(*e.CreatedAt)), true
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// mean 以分钟为单位的平均值累加器
type mean struct {
	sum   time.Duration
	count int
}

func (m *mean) add(d time.Duration) {
	m.sum += d
	m.count++
}

func (m mean) value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum.Minutes() / float64(m.count)
}
