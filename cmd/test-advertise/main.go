// Command test-advertise is a manual test that makes this machine advertise
// an iBeacon frame, for exercising beacon-scanner from a second device.
// Press Ctrl+C to stop advertising.
//
// Usage:
//
//	go run ./cmd/test-advertise [--uuid UUID] [--major 1] [--minor 1]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/beacon-scanner/internal/beacon"
)

func main() {
	id := flag.String("uuid", "f7826da6-4fa2-4e98-8024-bc5b71e0893e", "proximity UUID")
	major := flag.Uint("major", 1, "major value")
	minor := flag.Uint("minor", 1, "minor value")
	txPower := flag.Int("tx-power", -59, "measured power at 1m, in dBm")
	flag.Parse()

	proximity, err := uuid.Parse(*id)
	if err != nil {
		fmt.Printf("Error: invalid uuid: %v\n", err)
		os.Exit(1)
	}
	if *major > 0xFFFF || *minor > 0xFFFF {
		fmt.Println("Error: major and minor must fit in 16 bits")
		os.Exit(1)
	}

	frame := beacon.Frame{
		ProximityUUID: proximity,
		Major:         uint16(*major),
		Minor:         uint16(*minor),
		TxPower:       *txPower,
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		fmt.Printf("Error: enable adapter: %v\n", err)
		os.Exit(1)
	}

	adv := adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		ManufacturerData: []bluetooth.ManufacturerDataElement{{
			CompanyID: beacon.AppleCompanyID,
			Data:      beacon.AppendIBeacon(nil, frame),
		}},
	})
	if err != nil {
		fmt.Printf("Error: configure advertisement: %v\n", err)
		os.Exit(1)
	}
	if err := adv.Start(); err != nil {
		fmt.Printf("Error: start advertising: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Advertising %s/%d/%d (tx %d dBm)...\n", proximity, frame.Major, frame.Minor, frame.TxPower)
	fmt.Println("Press Ctrl+C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	// Exit directly; the OS stops the advertisement with the process.
	fmt.Println("\nDone.")
}
