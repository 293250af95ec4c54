package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// stopRetryInterval paces StopScan retries while the adapter has not started
// scanning yet.
const stopRetryInterval = 10 * time.Millisecond

// TinyGoScanner wraps tinygo-org/bluetooth. On macOS the advertisement address
// is a CoreBluetooth UUID rather than a MAC address; it is passed through as is.
type TinyGoScanner struct {
	adapter *bluetooth.Adapter

	// mu serializes Scan; the adapter supports a single scan at a time.
	mu sync.Mutex
}

// NewTinyGoScanner creates a scanner on the platform's default adapter.
func NewTinyGoScanner() *TinyGoScanner {
	return &TinyGoScanner{adapter: bluetooth.DefaultAdapter}
}

func (s *TinyGoScanner) Enable() error {
	return s.adapter.Enable()
}

// Scan blocks until ctx is cancelled or the adapter reports an error.
func (s *TinyGoScanner) Scan(ctx context.Context, handler func(Advertisement)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return nil
	}

	done := make(chan struct{})
	go stopOnCancel(ctx, done, s.adapter.StopScan)

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		handler(toAdvertisement(result))
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// stopOnCancel calls stop once ctx is cancelled, retrying until it succeeds or
// done is closed. StopScan fails when the adapter is not scanning yet, so a
// cancel that lands just before Scan starts would otherwise be lost.
func stopOnCancel(ctx context.Context, done <-chan struct{}, stop func() error) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	for {
		err := stop()
		if err == nil {
			return
		}
		slog.Debug("[BLE] stop scan failed, retrying", "error", err)
		t := time.NewTimer(stopRetryInterval)
		select {
		case <-done:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func toAdvertisement(result bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Address:   result.Address.String(),
		LocalName: result.LocalName(),
		RSSI:      int(result.RSSI),
	}
	for _, md := range result.ManufacturerData() {
		adv.Manufacturer = append(adv.Manufacturer, ManufacturerData{
			CompanyID: md.CompanyID,
			Data:      md.Data,
		})
	}
	return adv
}

// Compile-time check that TinyGoScanner implements Scanner.
var _ Scanner = (*TinyGoScanner)(nil)
