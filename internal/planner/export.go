package planner

import (
	"github.com/xuri/excelize/v2"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

const planSheetName = "plan"

var planHeader = []string{
	"vm_name", "target_type", "zone", "sizing_strategy", "tags", "notes",
}

// ExportXLSX writes plan as a spreadsheet a human can review and hand-edit
// before feeding it back in as an override file: one row per migration
// entry, with the defaults that apply to every row spelled out explicitly
// so editing a single cell is enough to override it.
func ExportXLSX(plan *v1.BatchPlan, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetName(sheet, planSheetName); err != nil {
		return vmerrors.NewTransientError(err, "renaming xlsx sheet")
	}

	for col, h := range planHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(planSheetName, cell, h); err != nil {
			return vmerrors.NewTransientError(err, "writing xlsx header")
		}
	}

	for i, m := range plan.Migrations {
		row := i + 2
		zone := m.Zone
		if zone == "" {
			zone = plan.Defaults.Zone
		}
		strategy := string(plan.Defaults.SizingStrategy)
		values := []interface{}{
			m.VMName, m.TargetType, zone, strategy, joinOrEmpty(plan.Defaults.Tags), m.Notes,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(planSheetName, cell, v); err != nil {
				return vmerrors.NewTransientError(err, "writing xlsx row %d", row)
			}
		}
	}

	if err := f.SetColWidth(planSheetName, "A", "F", 24); err != nil {
		return vmerrors.NewTransientError(err, "setting xlsx column widths")
	}

	if err := f.SaveAs(path); err != nil {
		return vmerrors.NewTransientError(err, "saving xlsx plan export to %s", path)
	}
	return nil
}

func joinOrEmpty(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
