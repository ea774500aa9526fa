package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

func TestOptions_Init(t *testing.T) {
	cases := map[string]func(o *Options) bool{
		"serve":   func(o *Options) bool { return o.Serve != nil },
		"ask":     func(o *Options) bool { return o.Ask != nil },
		"report":  func(o *Options) bool { return o.Report != nil },
		"prepare": func(o *Options) bool { return o.Prepare != nil },
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			o := &Options{}
			o.Init(name)
			assert.True(t, set(o))
		})
	}
}

func TestCommandFlags(t *testing.T) {
	ask := &AskCmd{}
	_, err := flags.NewParser(ask, flags.HelpFlag|flags.PassDoubleDash).ParseArgs([]string{"how", "many", "cases?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"how", "many", "cases?"}, ask.Args.Query)

	report := &ReportCmd{}
	_, err = flags.NewParser(report, flags.HelpFlag|flags.PassDoubleDash).ParseArgs([]string{"--focus", "vaccination"})
	require.NoError(t, err)
	assert.Equal(t, "vaccination", report.Focus)

	prepare := &PrepareCmd{}
	_, err = flags.NewParser(prepare, flags.HelpFlag|flags.PassDoubleDash).ParseArgs([]string{})
	assert.Error(t, err)
}

func TestPrepareCmd(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"DT_NOTIFIC,age,sex,outcome_lbl\n2024-06-01,40,M,Cure\n2024-06-02,71,F,Death\n"), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o644))
	opts.Config = cfgPath
	t.Cleanup(func() { opts.Config = "" })

	dbPath := filepath.Join(dir, "store", "srag_analytics.db")
	require.NoError(t, (&PrepareCmd{CSV: csvPath, Path: dbPath}).Execute(nil))

	deps := store.NewDependencyContext(dbPath, "")
	require.NoError(t, deps.Verify(t.Context()))
}
