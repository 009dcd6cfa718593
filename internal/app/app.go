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
	case "validate":
		return runValidate(args[1:])
	case "import":
		return runImport(args[1:])
	case "seed-feeds":
		return runSeedFeeds(args[1:])
	case "reindex":
		return runReindex(args[1:])
	case "refresh-counters":
		return runRefreshCounters(args[1:])
	case "delete":
		return runDelete(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "paperfeed CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  paperfeed <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health            Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate          Check a metadata feed against the record schema")
	fmt.Fprintln(os.Stderr, "  import            Import a metadata feed (local path or s3://bucket/key)")
	fmt.Fprintln(os.Stderr, "  seed-feeds        Create every feed of the category taxonomy")
	fmt.Fprintln(os.Stderr, "  reindex           Rebuild the search index from the store")
	fmt.Fprintln(os.Stderr, "  refresh-counters  Recompute comment and scite counters of one paper")
	fmt.Fprintln(os.Stderr, "  delete            Delete one paper and its search document")
	fmt.Fprintln(os.Stderr, "  runs              List recent import runs")
	fmt.Fprintln(os.Stderr, "  serve             Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"paperfeed <command> -h\" for command-specific flags.")
}
