// Command autoclick runs browser automation workflows: execute a
// document directly, validate documents, or serve the engine to MCP
// clients over stdio with cron scheduling.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "install":
		runInstall(os.Args[2:])
	case "update":
		runUpdate(os.Args[2:])
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: autoclick <command> [flags]

Commands:
  run       execute a workflow document and print its report
  validate  check workflow documents without executing them
  serve     expose the engine to MCP clients over stdio
  install   write default settings to ~/.autoclick/settings.json
  update    update the autoclick binary to the latest release
  version   print the build version

Run "autoclick <command> -h" for command flags.
`)
}
