// Command awbd runs the auto white balance pipeline against an ISP
// controller and serves its status over HTTP and gRPC health.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/awb/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	command := "serve"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "serve":
		err = handleServe(ctx, args)
	case "migrate":
		err = handleMigrate(args)
	case "calib":
		err = handleCalib(args)
	case "ports":
		err = handlePorts()
	case "version":
		fmt.Println(version.String("awbd"))
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println(`awbd - auto white balance daemon

Usage: awbd <command> [options]

Commands:
  serve      Run the pipeline and the monitor (default)
  migrate    Apply or inspect database migrations (up, down, version)
  calib      Manage calibration sets (import, export, list, activate, delete)
  ports      List serial ports
  version    Show awbd version
  help       Show this help message

Run 'awbd <command> -h' for command options.`)
}
