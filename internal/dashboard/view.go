package dashboard

import (
	"sort"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/metrics"
	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
	"github.com/AIexpert-ig/Grace-dashboard/internal/poller"
	"github.com/AIexpert-ig/Grace-dashboard/internal/timeutil"
	"github.com/AIexpert-ig/Grace-dashboard/internal/urgency"
)

// Item 一条工单及其派生展示数据
type Item struct {
	Escalation  models.Escalation `json:"escalation"`
	StatusLabel string            `json:"status_label"`
	Urgency     urgency.Tier      `json:"urgency"`
	Pulse       bool              `json:"pulse"`
	Category    urgency.Category  `json:"category"`
	Elapsed     string            `json:"elapsed"`
	AgeMinutes  int               `json:"age_minutes"`
}

// TierCounts 各紧急程度的工单数
type TierCounts struct {
	Critical  int `json:"critical"`
	Urgent    int `json:"urgent"`
	Attention int `json:"attention"`
	Normal    int `json:"normal"`
}

// View 看板读模型：一次轮询结果 + 连接状态
type View struct {
	CycleID          string                    `json:"cycle_id"`
	GeneratedAt      time.Time                 `json:"generated_at"`
	Connection       models.ConnectionState    `json:"connection"`
	Items            []Item                    `json:"items"`
	Tiers            TierCounts                `json:"tiers"`
	Metrics          metrics.Snapshot          `json:"metrics"`
	BackendMetrics   models.BackendMetrics     `json:"backend_metrics"`
	Leaderboard      []models.LeaderboardEntry `json:"leaderboard"`
	AvgClaimLabel    string                    `json:"avg_claim_label"`
	AvgResolveLabel  string                    `json:"avg_resolve_label"`
	LastUpdatedLabel string                    `json:"last_updated_label"`
}

// BuildView 合并一次轮询结果，所有派生字段使用同一个 now
// 排序：紧急程度降序，其次创建时间升序（无创建时间的排在最后）
func BuildView(update poller.Update, state models.ConnectionState, now time.Time) View {
	items := make([]Item, 0, len(update.Escalations))
	var tiers TierCounts

	for _, e := range update.Escalations {
		tier := urgency.ClassifyEscalation(e, now)
		item := Item{
			Escalation:  e,
			StatusLabel: e.Status.Label(),
			Urgency:     tier,
			Pulse:       tier.ShouldPulse(),
			Category:    urgency.CategoryOf(e.Issue),
			Elapsed:     timeutil.ElapsedLabel(e.CreatedAt, now),
		}
		if e.CreatedAt != nil {
			item.AgeMinutes = timeutil.ElapsedMinutes(*e.CreatedAt, now)
		}
		items = append(items, item)

		switch tier {
		case urgency.Critical:
			tiers.Critical++
		case urgency.Urgent:
			tiers.Urgent++
		case urgency.Attention:
			tiers.Attention++
		default:
			tiers.Normal++
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Urgency != b.Urgency {
			return a.Urgency > b.Urgency
		}
		ac, bc := a.Escalation.CreatedAt, b.Escalation.CreatedAt
		switch {
		case ac == nil && bc == nil:
			return false
		case ac == nil:
			return false
		case bc == nil:
			return true
		default:
			return ac.Before(*bc)
		}
	})

	leaderboard := update.Leaderboard
	if leaderboard == nil {
		leaderboard = []models.LeaderboardEntry{}
	}

	return View{
		CycleID:          update.CycleID,
		GeneratedAt:      now,
		Connection:       state,
		Items:            items,
		Tiers:            tiers,
		Metrics:          update.Metrics,
		BackendMetrics:   update.BackendMetrics,
		Leaderboard:      leaderboard,
		AvgClaimLabel:    minutesLabel(update.Metrics.AvgTimeToClaim),
		AvgResolveLabel:  minutesLabel(update.Metrics.AvgTimeToResolve),
		LastUpdatedLabel: timeutil.ElapsedLabel(&update.Timestamp, now),
	}
}

// Refreshed 返回以 now 重新计算 last_updated_label 的副本
func (v View) Refreshed(now time.Time) View {
	v.LastUpdatedLabel = timeutil.ElapsedLabel(&v.GeneratedAt, now)
	return v
}

func minutesLabel(minutes float64) string {
	return timeutil.FormatDuration(time.Duration(minutes * float64(time.Minute)))
}
