// Command token-log is a tool for viewing and analyzing flow log files.
//
// Log files are created by token-web and token-cli with the -log flag and
// record every vendor exchange, state transition, and error of a login or
// extraction session.
//
// Usage:
//
//	token-log <command> [flags] <file.tlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	token-log view flow.tlog
//
//	# View only error events
//	token-log view -category ERROR flow.tlog
//
//	# Export to JSONL
//	token-log export flow.tlog > flow.jsonl
//
//	# Show statistics
//	token-log stats flow.tlog
package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `token-log - Flow Log Analyzer

Usage:
  token-log <command> [flags] <file.tlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL
  stats    Show statistics about the log file

Use "token-log <command> -help" for more information about a command.
`

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	var err error
	switch os.Args[1] {
	case "view":
		err = cmdView(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "stats":
		err = cmdStats(os.Args[2:])
	case "-help", "--help", "help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(name string, args []string, register func(fs *flag.FlagSet)) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if register != nil {
		register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one log file argument")
	}
	return fs.Arg(0), nil
}
