package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/encoderlog/internal/analysis"
	"github.com/banshee-data/encoderlog/internal/config"
	"github.com/banshee-data/encoderlog/internal/sink"
)

func runSummarize(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("summarize", flag.ContinueOnError)
	fs.SetOutput(out)
	samplePeriod := fs.Duration("sample-period", config.DefaultSamplePeriod, "Time between frames")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("summarize takes exactly one CSV log, got %d arguments", fs.NArg())
	}
	return summarizeFile(fs.Arg(0), *samplePeriod, out)
}

func summarizeFile(path string, samplePeriod time.Duration, out io.Writer) error {
	records, err := sink.ReadCSVFile(path)
	if err != nil {
		return err
	}
	sum, err := analysis.Summarize(records, samplePeriod)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(out, "\n%s\n", path)
	return sum.WriteText(out)
}
