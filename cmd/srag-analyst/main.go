package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
)

// Options is the root command that groups sub-commands. The struct tags are
// interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Config  string      `short:"f" long:"config" description:"config file path (YAML)"`
	Serve   *ServeCmd   `command:"serve" description:"Start the HTTP server"`
	Ask     *AskCmd     `command:"ask" description:"Answer one question and print the result"`
	Report  *ReportCmd  `command:"report" description:"Generate the executive report"`
	Prepare *PrepareCmd `command:"prepare" description:"Build the analytical store from a CSV export"`
}

// Init instantiates the sub-command referenced by the first argument so that
// flags.Parse can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	case "ask":
		o.Ask = &AskCmd{}
	case "report":
		o.Report = &ReportCmd{}
	case "prepare":
		o.Prepare = &PrepareCmd{}
	}
}

var opts = &Options{}

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		opts.Init(args[0])
	}

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Stdout.WriteString(err.Error() + "\n")
			os.Exit(0)
		}
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
