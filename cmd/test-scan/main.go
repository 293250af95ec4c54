// Command test-scan is a manual test for the BLE scanner.
// It prints every advertisement carrying an iBeacon frame.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-scan [--all] [--min-rssi -90]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
	"github.com/chaz8081/beacon-scanner/internal/ble"
)

func main() {
	all := flag.Bool("all", false, "print advertisements without an iBeacon frame too")
	minRSSI := flag.Int("min-rssi", -100, "ignore advertisements weaker than this")
	flag.Parse()

	scanner := ble.NewTinyGoScanner()
	if err := scanner.Enable(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Scanning for iBeacons...")
	fmt.Println("Press Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seen := 0
	err := scanner.Scan(ctx, func(adv ble.Advertisement) {
		if adv.RSSI < *minRSSI {
			return
		}
		found := false
		for _, md := range adv.Manufacturer {
			frame, err := beacon.ParseIBeacon(md.CompanyID, md.Data)
			if err != nil {
				continue
			}
			found = true
			seen++
			b := frame.Beacon(adv.Address, adv.RSSI, md.Data)
			fmt.Printf(">>> %s  %s  rssi=%d tx=%d  ~%.2fm\n", adv.Address, b.Key(), b.RSSI, b.TxPower, b.Accuracy)
		}
		if !found && *all {
			fmt.Printf("    %s  %q  rssi=%d  (%d manufacturer element(s))\n", adv.Address, adv.LocalName, adv.RSSI, len(adv.Manufacturer))
		}
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}

	fmt.Printf("\nDone. %d iBeacon sighting(s).\n", seen)
}
