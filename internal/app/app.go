// Package app implements the sentinel CLI.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "run":
		return runRun(args[1:])
	case "collect", "run-once":
		return runCollect(args[1:])
	case "serve":
		return runServe(args[1:])
	case "test-alert":
		return runTestAlert(args[1:])
	case "import-opml":
		return runImportOPML(args[1:])
	case "export-opml":
		return runExportOPML(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "sentinel CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  sentinel <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run          Start continuous collection orchestration")
	fmt.Fprintln(os.Stderr, "  collect      Run one collection cycle immediately")
	fmt.Fprintln(os.Stderr, "  run-once     Alias for collect")
	fmt.Fprintln(os.Stderr, "  serve        Start the HTTP API server")
	fmt.Fprintln(os.Stderr, "  test-alert   Send a test alert through the dispatcher")
	fmt.Fprintln(os.Stderr, "  health       Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  import-opml  Import sources from an OPML feed list")
	fmt.Fprintln(os.Stderr, "  export-opml  Export sources as an OPML feed list")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"sentinel <command> -h\" for command-specific flags.")
}
