package render

import (
	"fmt"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Компания"

// Workbook builds a one-sheet XLSX company card.
func Workbook(rec model.CompanyRecord, provider string, fetchedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	labelStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Alignment: &excelize.Alignment{Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("create label style: %w", err)
	}
	valueStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create value style: %w", err)
	}

	rows := [][2]string{
		{"Наименование", rec.Name},
		{"Краткое наименование", rec.ShortName},
		{"ИНН", rec.INN},
		{"ОГРН", rec.OGRN},
		{"КПП", rec.KPP},
		{"Статус", rec.Status},
		{"Дата регистрации", rec.RegisteredAt},
		{"Адрес", rec.Address},
		{"Руководитель", rec.Head},
		{"Должность", rec.HeadPost},
		{"Источник", provider},
		{"Получено", fetchedAt.Format("02.01.2006 15:04")},
	}

	row := 1
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		label, _ := excelize.CoordinatesToCellName(1, row)
		value, _ := excelize.CoordinatesToCellName(2, row)
		if err := f.SetCellStr(sheetName, label, r[0]); err != nil {
			return nil, err
		}
		if err := f.SetCellStr(sheetName, value, r[1]); err != nil {
			return nil, err
		}
		_ = f.SetCellStyle(sheetName, label, label, labelStyle)
		_ = f.SetCellStyle(sheetName, value, value, valueStyle)
		row++
	}

	_ = f.SetColWidth(sheetName, "A", "A", 24)
	_ = f.SetColWidth(sheetName, "B", "B", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WorkbookName is the attachment file name for a tax id.
func WorkbookName(inn string) string {
	return "company_" + inn + ".xlsx"
}
