package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/thereceipt/printer-bridge/internal/config"
	"github.com/thereceipt/printer-bridge/internal/diagnostic"
	"github.com/thereceipt/printer-bridge/internal/driver"
	"github.com/thereceipt/printer-bridge/internal/logging"
	"github.com/thereceipt/printer-bridge/internal/ports"
	"github.com/thereceipt/printer-bridge/internal/printer"
	"github.com/thereceipt/printer-bridge/internal/receipt"
)

const (
	defaultServerURL = "http://localhost:12212"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("printerctl", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var serverURL, configPath string
	flags.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flags.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flags.StringVar(&configPath, "config", "", "Path to config file")
	flags.Usage = func() { printUsage(stderr) }

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		printUsage(stderr)
		return 1
	}

	rest := flags.Args()
	switch rest[0] {
	case "ports":
		return listPorts(ports.NewDiscovery(), stdout, stderr)
	case "diagnose":
		return diagnose(configPath, stdin, stdout, stderr)
	case "print":
		if len(rest) < 2 {
			fmt.Fprintln(stderr, "Error: print needs an order file")
			return 1
		}
		return printOrder(serverURL, rest[1], stdout, stderr)
	case "preview":
		if len(rest) < 2 {
			fmt.Fprintln(stderr, "Error: preview needs an order file")
			return 1
		}
		return preview(configPath, rest[1], stdout, stderr)
	case "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", rest[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Printer Bridge CLI

Usage:
  printerctl [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)
  -config <path>       Config file for diagnose and preview

Commands:
  ports
    List the serial ports the printer may be attached to

  diagnose
    Open the printer directly, print a test text, cut and close

  print <order.json>
    Send an order to the running bridge

  preview <order.json>
    Show the receipt an order would print, without printing

  help
    Show help message

Examples:
  printerctl ports
  printerctl diagnose
  printerctl print ./order.json
  printerctl -s http://192.168.0.10:12212 print ./order.json

`, defaultServerURL)
}

type portLister interface {
	ListPorts() ([]ports.Descriptor, error)
}

func listPorts(discovery portLister, stdout, stderr io.Writer) int {
	list, err := discovery.ListPorts()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := ports.FormatList(stdout, list); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func diagnose(configPath string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	drv, err := driver.Load(cfg.Driver.Kind, cfg.Driver.Library)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load printer driver: %v\n", err)
		return 1
	}
	defer driver.Unload(drv)

	manager := printer.NewManager(drv,
		printer.WithPrinterName(cfg.Printer.Name),
		printer.WithCallTimeout(cfg.Print.CallTimeout),
		printer.WithLogger(logger))

	runner := diagnostic.NewRunner(manager, stdin, stdout,
		diagnostic.WithModelID(cfg.Printer.ModelID),
		diagnostic.WithCutFeed(cfg.Print.CutFeed),
		diagnostic.WithDefaults(cfg.Printer.Port, cfg.Printer.Baud),
		diagnostic.WithPortList(ports.NewDiscovery().ListPorts))

	report, err := runner.Run(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	for _, step := range report.Steps {
		if !step.Skipped && step.Code != driver.CodeOK {
			return 1
		}
	}
	return 0
}

// printResult mirrors the bridge's print response
type printResult struct {
	JobID      string `json:"job_id"`
	Success    bool   `json:"success"`
	NativeCode int    `json:"native_code"`
	Error      string `json:"error,omitempty"`
}

func printOrder(serverURL, path string, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to read order file: %v\n", err)
		return 1
	}

	var order receipt.Order
	if err := json.Unmarshal(data, &order); err != nil {
		fmt.Fprintf(stderr, "Error: invalid order file: %v\n", err)
		return 1
	}

	url := strings.TrimSuffix(serverURL, "/") + "/print"
	client := &http.Client{Timeout: 60 * time.Second}

	resp, err := client.Post(url, "application/json", strings.NewReader(string(data)))
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to connect to server: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var result printResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(stderr, "Error: failed to parse response (HTTP %d): %v\n", resp.StatusCode, err)
		return 1
	}

	if !result.Success {
		fmt.Fprintf(stderr, "Error: %s (code %d)\n", result.Error, result.NativeCode)
		return 1
	}

	fmt.Fprintf(stdout, "Printed order #%s\n", order.Number)
	fmt.Fprintf(stdout, "Job ID: %s\n", result.JobID)
	return 0
}

func preview(configPath, path string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to read order file: %v\n", err)
		return 1
	}

	var order receipt.Order
	if err := json.Unmarshal(data, &order); err != nil {
		fmt.Fprintf(stderr, "Error: invalid order file: %v\n", err)
		return 1
	}

	job, err := receipt.Build(order,
		receipt.WithWidth(cfg.Receipt.Width),
		receipt.WithFooter(cfg.Receipt.Footer))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprint(stdout, job.Text(cfg.Receipt.Width))
	return 0
}
