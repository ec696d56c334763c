// Command bleprint prints ESC/POS markup on Bluetooth LE thermal printers.
//
// Usage:
//
//	bleprint [-config path] scan
//	bleprint [-config path] print [-device id] [-order order.json] [file]
//	bleprint [-config path] serve
//	bleprint init-config
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/chaz8081/bleprint/internal/api"
	"github.com/chaz8081/bleprint/internal/ble"
	"github.com/chaz8081/bleprint/internal/config"
	"github.com/chaz8081/bleprint/internal/logging"
	"github.com/chaz8081/bleprint/internal/receipt"
	"go.uber.org/zap"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/bleprint/config.yaml)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if args[0] == "init-config" {
		if err := initConfig(); err != nil {
			log.Fatalf("init-config: %v", err)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "scan":
		err = runScan(ctx, cfg, sugar)
	case "print":
		err = runPrint(ctx, cfg, sugar, args[1:])
	case "serve":
		err = runServe(ctx, cfg, sugar)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		sugar.Errorf("%s: %v", args[0], err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: bleprint [-config path] <command> [flags]

Commands:
  scan          list nearby printers
  print         print a markup file, stdin, or a JSON order
  serve         run the local HTTP API
  init-config   write the default config file
`)
}

func initConfig() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}

// newClient builds the configured backend and starts a client on it.
func newClient(cfg *config.Config, logger *zap.SugaredLogger) (*ble.Client, error) {
	central, err := ble.NewCentral(cfg.BLE.Backend, ble.BackendOptions{
		ChunkSize:  cfg.BLE.ChunkSize,
		ChunkDelay: cfg.BLE.ChunkDelay,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return ble.NewClient(central, ble.ClientOptions{
		ScanTimeout:    cfg.BLE.ScanTimeout,
		ConnectTimeout: cfg.BLE.ConnectTimeout,
		WriteGrace:     cfg.BLE.WriteGrace,
		Filter:         ble.DeviceFilter{ExtraKeywords: cfg.Printer.ExtraKeywords},
		Logger:         logger,
	})
}

func receiptOptions(cfg *config.Config) receipt.Options {
	return receipt.Options{
		Width:    cfg.Receipt.Width,
		Header:   cfg.Receipt.Header,
		Footer:   cfg.Receipt.Footer,
		Currency: cfg.Receipt.Currency,
	}
}

func runScan(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Scanning for %s...\n", cfg.BLE.ScanTimeout)
	candidates, err := client.ScanFor(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("No printers found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI\tSERVICES")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Name, c.RSSI, strings.Join(c.ServiceUUIDs, ","))
	}
	return w.Flush()
}

func runPrint(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, args []string) error {
	fs := flag.NewFlagSet("print", flag.ExitOnError)
	device := fs.String("device", cfg.Printer.DeviceID, "peripheral id (default: first printer found)")
	orderPath := fs.String("order", "", "JSON order file to render as a receipt")
	_ = fs.Parse(args)

	markup, err := readMarkup(*orderPath, fs.Arg(0), receiptOptions(cfg))
	if err != nil {
		return err
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	id := ble.PeripheralID(*device)
	if id == "" {
		candidates, err := client.ScanFor(ctx)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return errors.New("no printer found")
		}
		id = candidates[0].ID
		fmt.Printf("Using %s (%s)\n", id, candidates[0].Name)
	}

	st, err := client.ConnectAndWait(ctx, id)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", id, err)
	}
	fmt.Println("Connected:", st.Reason())

	res, err := client.Print(ctx, markup)
	if err != nil {
		return err
	}
	fmt.Printf("Printed %d bytes in %s (job %s)\n", res.Bytes, res.Duration, res.JobID)
	return nil
}

// readMarkup returns the rendered order when orderPath is set, otherwise the
// contents of path, or stdin when path is empty or "-".
func readMarkup(orderPath, path string, opts receipt.Options) (string, error) {
	if orderPath != "" {
		data, err := os.ReadFile(orderPath)
		if err != nil {
			return "", fmt.Errorf("reading order: %w", err)
		}
		var order receipt.Order
		if err := json.Unmarshal(data, &order); err != nil {
			return "", fmt.Errorf("parsing order: %w", err)
		}
		if err := order.Validate(); err != nil {
			return "", err
		}
		return receipt.Render(order, opts), nil
	}

	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading markup: %w", err)
	}
	return string(data), nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if id := cfg.Printer.DeviceID; id != "" {
		go func() {
			if _, err := client.ConnectAndWait(ctx, ble.PeripheralID(id)); err != nil {
				logger.Warnf("[BLE] initial connect to %s: %v", id, err)
			}
		}()
	}

	server := api.New(client, api.Options{
		Receipt:        receiptOptions(cfg),
		RequestTimeout: cfg.BLE.ScanTimeout + cfg.BLE.ConnectTimeout,
		Logger:         logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(cfg.API.Listen) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Infof("[API] shutting down")
		return server.Shutdown()
	}
}
