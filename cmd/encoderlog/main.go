package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/encoderlog/internal/db"
	"github.com/banshee-data/encoderlog/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("encoderlog: %v", err)
	}
}

// run dispatches to a subcommand. With no subcommand, or when the first
// argument is a flag, it collects.
func run(ctx context.Context, args []string, out io.Writer) error {
	command := "collect"
	if len(args) > 0 && (args[0] == "-version" || args[0] == "--version") {
		command, args = "version", args[1:]
	} else if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "collect":
		return runCollect(ctx, args, out)
	case "replay":
		return runReplay(ctx, args, out)
	case "summarize":
		return runSummarize(args, out)
	case "migrate":
		return runMigrate(args, out)
	case "version":
		fmt.Fprintln(out, version.String())
		return nil
	case "help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

// runReplay re-decodes a capture into a new CSV log:
// replay <capture.cbor> [collect flags].
func runReplay(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "" || args[0][0] == '-' {
		return fmt.Errorf("replay takes a capture file before any flags")
	}
	collectArgs := append([]string{"-replay", args[0]}, args[1:]...)
	return runCollect(ctx, collectArgs, out)
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	dbPath := fs.String("db", "encoder_runs.db", "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, out)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `encoderlog - dual encoder serial telemetry logger

Usage: encoderlog [command] [flags]

Commands:
  collect     Log frames from the encoder port (default)
  replay      Re-decode a capture to CSV: replay <capture.cbor> [collect flags]
  summarize   Print the slew summary of a CSV log: summarize [-sample-period 1ms] <file.csv>
  migrate     Manage the run database schema: migrate [-db path] <up|down|status|version N|force N>
  version     Show build information
  help        Show this help message

Run 'encoderlog collect -h' for the collection flags.`)
}
