package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"respirosync/internal/models"
)

const (
	summarySheet  = "Summary"
	timelineSheet = "Timeline"
)

// TimelineHeader 时间线表头
var TimelineHeader = []string{
	"Time",
	"Elapsed (s)",
	"Breathing Rate (BPM)",
	"Sleep Stage",
	"Confidence",
	"Regularity",
	"Movement",
	"Breath Cycles",
	"Possible Apnea",
}

// ExportExcel 生成会话报告 xlsx（摘要页 + 时间线页）
func ExportExcel(summary *models.SessionSummary, timeline []TimelineRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(timelineSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, summary, headerStyle); err != nil {
		return nil, err
	}
	if err := writeTimeline(f, timeline, headerStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteExcelFile 导出到目录，文件名为 session-{id}.xlsx
func WriteExcelFile(dir string, summary *models.SessionSummary, timeline []TimelineRow) (string, error) {
	data, err := ExportExcel(summary, timeline)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("session-%s.xlsx", summary.SessionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

func writeSummary(f *excelize.File, s *models.SessionSummary, headerStyle int) error {
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Session ID", s.SessionID},
		{"Device ID", s.DeviceID},
		{"Started At", formatTime(s.StartedAt)},
		{"Ended At", formatTime(s.EndedAt)},
		{"Duration (s)", s.Duration().Seconds()},
		{"Breath Cycles", s.BreathCycles},
		{"Average BPM", round1(s.AverageBPM)},
		{"Apnea Episodes", s.ApneaEpisodes},
	}
	for _, stage := range models.AllStages {
		rows = append(rows, []interface{}{
			fmt.Sprintf("%s (s)", stage.String()),
			s.StageDuration[stage].Seconds(),
		})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to set summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "A", "B", 38); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return nil
}

func writeTimeline(f *excelize.File, timeline []TimelineRow, headerStyle int) error {
	header := make([]interface{}, len(TimelineHeader))
	for i, h := range TimelineHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(timelineSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to set timeline header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(TimelineHeader))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(timelineSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(timelineSheet, "A", lastCol, 20); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	for i, r := range timeline {
		apnea := "No"
		if r.Apnea {
			apnea = "Yes"
		}
		row := []interface{}{
			formatTime(r.Timestamp),
			r.Elapsed.Seconds(),
			round1(r.BPM),
			r.Stage.String(),
			round2(r.Confidence),
			round2(r.Regularity),
			round2(r.Movement),
			r.BreathCycles,
			apnea,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2) // 从第2行开始（第1行是表头）
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(timelineSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to set timeline row %d: %w", i+2, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
