// Package srag holds process-wide defaults shared by the analyst packages.
package srag

import "path/filepath"

const (
	DefaultAppName = "srag-analyst"

	// DefaultTable is the single analytical table produced by the ETL pipeline.
	DefaultTable = "srag_analytics"

	// DefaultTimestampColumn is the primary notification date column (YYYY-MM-DD).
	DefaultTimestampColumn = "DT_NOTIFIC"

	// PlotsRoute is the served-URL prefix for generated charts.
	PlotsRoute = "/api/v1/plots/"

	// OfflinePlotsDir is the relative directory charts are referenced from in archived reports.
	OfflinePlotsDir = "plots"

	DefaultChartExtension = ".png"
)

var (
	DefaultDataDir    = "data"
	DefaultStorePath  = filepath.Join(DefaultDataDir, "processed", "srag_analytics.db")
	DefaultPlotsDir   = filepath.Join(DefaultDataDir, "plots")
	DefaultConfigPath = filepath.Join("/etc", DefaultAppName)
)
