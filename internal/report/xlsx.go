package report

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"icast/internal/templates"
)

const (
	sheetName        = "Answers"
	noAnswerSentinel = "No answer"
)

// Row is one rendered report line.
type Row struct {
	QuestionID int
	Question   string
	Answer     string
}

// BuildRows pairs each template question with its extracted answer, in
// numeric question-id order. Questions the model did not answer get the
// no-answer sentinel.
func BuildRows(template *templates.Template, answers map[string]string) []Row {
	rows := make([]Row, 0, len(template.Questions))
	for _, q := range template.Questions {
		answer, ok := answers[strconv.Itoa(q.ID)]
		if !ok || answer == "" {
			answer = noAnswerSentinel
		}
		rows = append(rows, Row{QuestionID: q.ID, Question: q.Text, Answer: answer})
	}
	return rows
}

// RenderWorkbook renders report rows into an xlsx workbook.
func RenderWorkbook(title string, rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    boxBorder(),
	})
	if err != nil {
		return nil, fmt.Errorf("render workbook: header style: %w", err)
	}
	cellStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
		Border:    boxBorder(),
	})
	if err != nil {
		return nil, fmt.Errorf("render workbook: cell style: %w", err)
	}

	headers := []string{"#", "Question", "Answer"}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("render workbook: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, fmt.Errorf("render workbook: %w", err)
		}
	}
	if err := f.SetCellStyle(sheetName, "A1", "C1", headerStyle); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	for i, row := range rows {
		rowIdx := i + 2
		values := []any{row.QuestionID, row.Question, row.Answer}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx)
			if err != nil {
				return nil, fmt.Errorf("render workbook: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, fmt.Errorf("render workbook: %w", err)
			}
		}
		last, err := excelize.CoordinatesToCellName(len(values), rowIdx)
		if err != nil {
			return nil, fmt.Errorf("render workbook: %w", err)
		}
		first, _ := excelize.CoordinatesToCellName(1, rowIdx)
		if err := f.SetCellStyle(sheetName, first, last, cellStyle); err != nil {
			return nil, fmt.Errorf("render workbook: %w", err)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "A", 5); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	if err := f.SetColWidth(sheetName, "B", "B", 50); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	if err := f.SetColWidth(sheetName, "C", "C", 80); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	if title != "" {
		f.SetDocProps(&excelize.DocProperties{Title: title})
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func boxBorder() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
}
