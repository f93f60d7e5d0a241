package urgency

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
	"github.com/AIexpert-ig/Grace-dashboard/internal/timeutil"
)

// Tier 紧急程度（数值越大越紧急，可直接用于排序）
type Tier int

const (
	Normal Tier = iota
	Attention
	Urgent
	Critical
)

const (
	// AttentionAfter Pending 超过该时长标记为 ATTENTION
	AttentionAfter = 5 * time.Minute
	// UrgentAfter Pending 超过该时长标记为 URGENT
	UrgentAfter = 15 * time.Minute
)

var criticalKeywords = []string{"medical", "emergency"}

var tierNames = map[Tier]string{
	Normal:    "NORMAL",
	Attention: "ATTENTION",
	Urgent:    "URGENT",
	Critical:  "CRITICAL",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// ShouldPulse 仅 CRITICAL 和 URGENT 需要闪烁提示
func (t Tier) ShouldPulse() bool {
	return t == Critical || t == Urgent
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(text)))
	for tier, name := range tierNames {
		if name == s {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("unknown urgency tier %q", string(text))
}

// Classify 计算工单紧急程度，按以下顺序匹配：
//  1. PENDING 且描述包含 medical/emergency → CRITICAL
//  2. PENDING 且等待 ≥ 15 分钟 → URGENT
//  3. PENDING 且等待 ≥ 5 分钟 → ATTENTION
//  4. 其它 → NORMAL
//
// 没有创建时间的工单无法计算等待时长，一律返回 NORMAL。
// 等待时长随时间增长，每次轮询都要重新计算，不要缓存在工单上。
func Classify(status models.Status, issue string, createdAt *time.Time, now time.Time) Tier {
	if createdAt == nil || createdAt.IsZero() {
		return Normal
	}
	if status != models.StatusPending {
		return Normal
	}
	if containsAny(strings.ToLower(issue), criticalKeywords) {
		return Critical
	}
	age := timeutil.Age(*createdAt, now)
	switch {
	case age >= UrgentAfter:
		return Urgent
	case age >= AttentionAfter:
		return Attention
	default:
		return Normal
	}
}

// ClassifyEscalation 对工单记录调用 Classify
func ClassifyEscalation(e models.Escalation, now time.Time) Tier {
	return Classify(e.Status, e.Issue, e.CreatedAt, now)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Category 问题类型（仅根据描述文本判断，样式映射在展示层完成）
type Category string

const (
	CategoryMedical Category = "medical"
	CategoryWater   Category = "water"
	CategoryClimate Category = "climate"
	CategoryNoise   Category = "noise"
	CategoryGeneral Category = "general"
)

// "ac" 只按独立单词匹配，避免 "back"、"place" 之类误判
var acWord = regexp.MustCompile(`\bac\b`)

// CategoryOf 根据问题描述归类
func CategoryOf(issue string) Category {
	s := strings.ToLower(issue)
	switch {
	case containsAny(s, criticalKeywords):
		return CategoryMedical
	case containsAny(s, []string{"water", "leak"}):
		return CategoryWater
	case acWord.MatchString(s) || strings.Contains(s, "temperature"):
		return CategoryClimate
	case containsAny(s, []string{"noise", "complaint"}):
		return CategoryNoise
	default:
		return CategoryGeneral
	}
}
