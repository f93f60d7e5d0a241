package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/dashboard"

	"github.com/xuri/excelize/v2"
)

const (
	SheetEscalations = "Escalations"
	SheetLeaderboard = "Leaderboard"
	SheetHourly      = "Hourly"
	SheetSummary     = "Summary"
)

const timeLayout = "2006-01-02 15:04:05"

// EscalationHeader 工单明细表头（与看板排序一致：最紧急在前）
var EscalationHeader = []string{
	"ID",
	"Room",
	"Guest",
	"Issue",
	"Status",
	"Urgency",
	"Category",
	"Created At",
	"Waiting",
	"Claimed By",
	"Claimed At",
	"Resolved At",
}

var escalationWidths = []float64{38, 10, 20, 40, 14, 12, 12, 20, 10, 18, 20, 20}

// LeaderboardHeader 排行榜表头
var LeaderboardHeader = []string{"Rank", "Staff", "Claims", "Avg Resolve (min)"}

// HourlyHeader 小时分布表头
var HourlyHeader = []string{"Hour", "Escalations"}

// SummaryHeader KPI 汇总表头
var SummaryHeader = []string{"Metric", "Value"}

// Workbook 把看板视图导出为 Excel（Escalations / Leaderboard / Hourly / Summary 四个工作表）
// 时间按 view.GeneratedAt 所在时区格式化
func Workbook(view dashboard.View) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 之前不能 Close

	loc := view.GeneratedAt.Location()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	escalationRows := make([][]interface{}, 0, len(view.Items))
	for _, item := range view.Items {
		e := item.Escalation
		escalationRows = append(escalationRows, []interface{}{
			e.ID,
			e.Room,
			e.GuestName,
			e.Issue,
			item.StatusLabel,
			item.Urgency.String(),
			string(item.Category),
			formatTime(e.CreatedAt, loc),
			item.Elapsed,
			e.ClaimedBy,
			formatTime(e.ClaimedAt, loc),
			formatTime(e.ResolvedAt, loc),
		})
	}

	leaderboardRows := make([][]interface{}, 0, len(view.Leaderboard))
	for i, entry := range view.Leaderboard {
		leaderboardRows = append(leaderboardRows, []interface{}{i + 1, entry.Name, entry.Claims, entry.AvgResolveMinutes})
	}

	hourlyRows := make([][]interface{}, 0, len(view.Metrics.Hourly))
	for hour, count := range view.Metrics.Hourly {
		hourlyRows = append(hourlyRows, []interface{}{fmt.Sprintf("%02d:00", hour), count})
	}

	m := view.Metrics
	summaryRows := [][]interface{}{
		{"Generated At", view.GeneratedAt.Format(timeLayout)},
		{"Connection", string(view.Connection)},
		{"Total", m.Total},
		{"Pending", m.TotalPending},
		{"In Progress", m.TotalInProgress},
		{"Resolved", m.TotalResolved},
		{"Resolution Rate (%)", m.ResolutionRate},
		{"Avg Time To Claim (min)", m.AvgTimeToClaim},
		{"Avg Time To Resolve (min)", m.AvgTimeToResolve},
		{"Critical", view.Tiers.Critical},
		{"Urgent", view.Tiers.Urgent},
		{"Attention", view.Tiers.Attention},
		{"Normal", view.Tiers.Normal},
	}

	sheets := []struct {
		name   string
		header []string
		widths []float64
		rows   [][]interface{}
	}{
		{SheetEscalations, EscalationHeader, escalationWidths, escalationRows},
		{SheetLeaderboard, LeaderboardHeader, []float64{8, 24, 10, 18}, leaderboardRows},
		{SheetHourly, HourlyHeader, []float64{10, 14}, hourlyRows},
		{SheetSummary, SummaryHeader, []float64{28, 24}, summaryRows},
	}

	for i, s := range sheets {
		index, err := f.NewSheet(s.name)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", s.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		if err := writeSheet(f, s.name, s.header, s.widths, s.rows, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// writeSheet 写入表头、数据并冻结首行
func writeSheet(f *excelize.File, sheet string, header []string, widths []float64, rows [][]interface{}, headerStyle int) error {
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2) // 第1行是表头
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", r+2, sheet, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func formatTime(ts *time.Time, loc *time.Location) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.In(loc).Format(timeLayout)
}
