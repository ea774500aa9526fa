// Package storetest seeds temporary analytical stores for tests.
package storetest

import (
	"context"
	"encoding/csv"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

// SampleEnd is the latest notification date in Sample.
var SampleEnd = time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)

// Record is one notification row.
type Record struct {
	Date       time.Time
	Age        int
	Sex        string
	Outcome    string
	ICU        string
	Diagnosis  string
	Vaccine    string
	VaccineCov string
	Cardio     int
	Diabetes   int
	Obesity    int
}

var header = []string{
	"DT_NOTIFIC", "age", "sex", "outcome_lbl", "icu_lbl", "diagnosis_lbl",
	"vaccine_lbl", "vaccine_cov_lbl", "cardiopati_1", "diabetes_1", "obesidade_1",
}

// Daily builds counts[i] records on end-(len(counts)-1-i) days, so the last
// element lands on end.
func Daily(end time.Time, counts []int) []Record {
	var out []Record
	first := end.AddDate(0, 0, -(len(counts) - 1))
	for i, c := range counts {
		day := first.AddDate(0, 0, i)
		for j := 0; j < c; j++ {
			out = append(out, synthetic(day, i+j))
		}
	}
	return out
}

// SampleCounts is the daily count series behind Sample: 400 days where the last
// seven days hold 3 cases each, the seven before them 2 each and every older day 1.
func SampleCounts() []int {
	counts := make([]int, 400)
	for i := range counts {
		back := len(counts) - 1 - i
		switch {
		case back < 7:
			counts[i] = 3
		case back < 14:
			counts[i] = 2
		default:
			counts[i] = 1
		}
	}
	return counts
}

// Sample returns the default dataset ending on SampleEnd.
func Sample() []Record {
	return Daily(SampleEnd, SampleCounts())
}

// Seed writes records to a fresh store under t.TempDir and returns its context.
func Seed(t testing.TB, records []Record) *store.DependencyContext {
	t.Helper()

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(header); err != nil {
		t.Fatalf("write csv header: %v", err)
	}
	for _, r := range records {
		if err := w.Write(r.row()); err != nil {
			t.Fatalf("write csv row: %v", err)
		}
	}
	w.Flush()

	path := filepath.Join(t.TempDir(), "srag_analytics.db")
	if _, err := store.Prepare(context.Background(), path, strings.NewReader(b.String())); err != nil {
		t.Fatalf("prepare store: %v", err)
	}
	return store.NewDependencyContext(path, internal.DefaultTable)
}

// SeedSample seeds Sample.
func SeedSample(t testing.TB) *store.DependencyContext {
	t.Helper()
	return Seed(t, Sample())
}

func (r Record) row() []string {
	return []string{
		store.FormatDate(r.Date),
		strconv.Itoa(r.Age),
		r.Sex,
		r.Outcome,
		r.ICU,
		r.Diagnosis,
		r.Vaccine,
		r.VaccineCov,
		strconv.Itoa(r.Cardio),
		strconv.Itoa(r.Diabetes),
		strconv.Itoa(r.Obesity),
	}
}

func synthetic(day time.Time, n int) Record {
	pick := func(opts ...string) string { return opts[n%len(opts)] }
	return Record{
		Date:       day,
		Age:        18 + (n*7)%70,
		Sex:        pick("M", "F"),
		Outcome:    pick("Cure", "Cure", "Cure", "Death"),
		ICU:        pick("No", "Yes", "No"),
		Diagnosis:  pick("Covid-19", "Influenza", "Other"),
		Vaccine:    pick("Yes", "No"),
		VaccineCov: pick("Yes", "Yes", "No"),
		Cardio:     n % 2,
		Diabetes:   (n / 2) % 2,
		Obesity:    (n / 3) % 2,
	}
}
