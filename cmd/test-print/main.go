// Command test-print is a manual hardware test. It scans for printers,
// connects to the first one found and prints a sample receipt.
//
// Usage:
//
//	go run ./cmd/test-print [--backend tinygo|hci] [--width 32]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/bleprint/internal/ble"
	"github.com/chaz8081/bleprint/internal/config"
	"github.com/chaz8081/bleprint/internal/logging"
	"github.com/chaz8081/bleprint/internal/receipt"
	"github.com/shopspring/decimal"
)

func main() {
	backend := flag.String("backend", "tinygo", "BLE backend: tinygo or hci")
	width := flag.Int("width", 32, "characters per line")
	flag.Parse()

	logCfg := config.Default().Log
	logCfg.Level = "debug"
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	central, err := ble.NewCentral(*backend, ble.BackendOptions{Logger: logger.Sugar()})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	client, err := ble.NewClient(central, ble.ClientOptions{Logger: logger.Sugar()})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer client.Close()

	fmt.Println("Scanning...")
	candidates, err := client.ScanFor(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(candidates) == 0 {
		fmt.Println("No printers found.")
		return
	}
	for _, c := range candidates {
		fmt.Printf("  %s  %-20q rssi %d\n", c.ID, c.Name, c.RSSI)
	}

	target := candidates[0]
	fmt.Printf("Connecting to %s...\n", target.ID)
	st, err := client.ConnectAndWait(ctx, target.ID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(st.Reason())

	order := receipt.Order{
		Customer: "bleprint",
		PlacedAt: time.Now(),
		DineIn:   true,
		Table:    "1",
		Items: []receipt.LineItem{
			{Name: "Test line", Quantity: 2, UnitPrice: decimal.RequireFromString("1.25")},
			{Name: "Another line with a long name", Quantity: 1, UnitPrice: decimal.RequireFromString("3.00")},
		},
		Notes: "hardware test",
	}
	opts := receipt.DefaultOptions()
	opts.Width = *width

	res, err := client.Print(ctx, receipt.Render(order, opts))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("\nDone! %d bytes in %s\n", res.Bytes, res.Duration)
}
