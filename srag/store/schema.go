package store

import (
	"context"
	"fmt"
	"strings"
)

// Column describes one column of the analytical table for the system prompt.
type Column struct {
	Name        string
	Description string
}

// Columns lists the documented columns in prompt order.
var Columns = []Column{
	{"DT_NOTIFIC", "Notification Date (YYYY-MM-DD). The primary timestamp for all temporal analysis (trends, seasonality)."},
	{"age", "Patient Age (Years). Numeric value."},
	{"sex", "Biological Sex. Categories: M (Male), F (Female), I (Ignored)."},
	{"outcome_lbl", "Case Outcome (Evolution). Indicates if patient recovered or died. CRITICAL for Mortality Rate."},
	{"icu_lbl", "ICU Admission Status (Yes/No/Ignored). Indicates severity and resource usage."},
	{"diagnosis_lbl", "Final Diagnosis Classification. E.g., Influenza, Covid-19. Use this to differentiate outbreaks."},
	{"vaccine_lbl", "Influenza (Flu) Vaccination Status (Yes/No/Ignored) in the last campaign."},
	{"vaccine_cov_lbl", "COVID-19 Vaccination Status (Yes/No/Ignored)."},
	{"cardiopati_1", "Comorbidity: Heart Disease. (1 = Yes, 0 = No)."},
	{"diabetes_1", "Comorbidity: Diabetes. (1 = Yes, 0 = No)."},
	{"obesidade_1", "Comorbidity: Obesity. (1 = Yes, 0 = No)."},
}

const sampleValues = 5

// DescribeSchema renders the table schema as a markdown list, including the most
// frequent values of text columns so the model can match exact string literals.
func (d *DependencyContext) DescribeSchema(ctx context.Context) (string, error) {
	var out string
	err := d.WithHandle(ctx, func(ctx context.Context, h *Handle) error {
		info, err := h.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", h.QuotedTable()), -1)
		if err != nil {
			return fmt.Errorf("%w: failed to read schema: %v", ErrUnavailable, err)
		}
		if info.Total == 0 {
			return fmt.Errorf("%w: table %s does not exist", ErrUnavailable, h.table)
		}

		types := make(map[string]string, len(info.Rows))
		for _, row := range info.Rows {
			// cid, name, type, notnull, dflt_value, pk
			types[fmt.Sprint(row[1])] = strings.ToUpper(fmt.Sprint(row[2]))
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Table: %s\n", h.table)
		b.WriteString(strings.Repeat("=", 30))
		for _, col := range Columns {
			colType, ok := types[col.Name]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "\n- **%s** (%s) | Description: %s", col.Name, colType, col.Description)
			if colType == "TEXT" && col.Name != "DT_NOTIFIC" {
				if samples := h.topValues(ctx, col.Name); len(samples) > 0 {
					fmt.Fprintf(&b, " | Sample Values: [%s]", strings.Join(samples, ", "))
				}
			}
		}
		out = b.String()
		return nil
	})
	return out, err
}

func (h *Handle) topValues(ctx context.Context, column string) []string {
	q := fmt.Sprintf(
		"SELECT %[1]s, COUNT(*) AS freq FROM %[2]s WHERE %[1]s IS NOT NULL GROUP BY %[1]s ORDER BY freq DESC LIMIT %[3]d",
		quoteIdent(column), h.QuotedTable(), sampleValues)
	res, err := h.Query(ctx, q, sampleValues)
	if err != nil {
		return nil
	}
	vals := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		vals = append(vals, fmt.Sprintf("'%v'", row[0]))
	}
	return vals
}
