package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ZanzyTHEbar/srag-analyst/srag/analyst"
)

// AskCmd answers one question.
// Usage: srag-analyst ask "How many ICU admissions in the last 30 days?"
type AskCmd struct {
	Args struct {
		Query []string `positional-arg-name:"query" required:"yes"`
	} `positional-args:"yes"`
}

func (c *AskCmd) Execute(_ []string) error {
	query := strings.Join(c.Args.Query, " ")
	return runOnce(func(ctx context.Context, svc *analyst.Service) (*analyst.Answer, error) {
		return svc.Chat(ctx, query)
	})
}

// ReportCmd generates the executive report.
// Usage: srag-analyst report --focus "vaccination coverage"
type ReportCmd struct {
	Focus string `long:"focus" description:"additional focus area for the report"`
}

func (c *ReportCmd) Execute(_ []string) error {
	return runOnce(func(ctx context.Context, svc *analyst.Service) (*analyst.Answer, error) {
		return svc.Report(ctx, c.Focus)
	})
}

func runOnce(fn func(ctx context.Context, svc *analyst.Service) (*analyst.Answer, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if app.cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.cfg.Server.RequestTimeout)
		defer cancel()
	}

	ans, err := fn(ctx, app.analyst)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("run timed out after %s: %w", app.cfg.Server.RequestTimeout, err)
		}
		return err
	}

	fmt.Println(ans.Response)
	if len(ans.Plots) > 0 {
		fmt.Printf("\nCharts: %s\n", strings.Join(ans.Plots, ", "))
	}
	if ans.Archive != "" {
		fmt.Printf("Archived to %s\n", ans.Archive)
	}
	fmt.Printf("(%.1fs)\n", ans.ExecutionTime)
	return nil
}
