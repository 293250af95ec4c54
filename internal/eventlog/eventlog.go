// Package eventlog records delivered scan events to an append-only CBOR file.
package eventlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chaz8081/beacon-scanner/internal/scan"
)

// Feed names used in records.
const (
	FeedRanging    = "ranging"
	FeedMonitoring = "monitoring"
)

// Record is one delivered event. CBOR encoding uses integer keys for compactness.
type Record struct {
	Timestamp time.Time        `cbor:"1,keyasint"`
	Session   string           `cbor:"2,keyasint"`
	Feed      string           `cbor:"3,keyasint"`
	Event     string           `cbor:"4,keyasint,omitempty"`
	Region    map[string]any   `cbor:"5,keyasint"`
	State     string           `cbor:"6,keyasint,omitempty"`
	Beacons   []map[string]any `cbor:"7,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		IndefLength:    cbor.IndefLengthAllowed,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: create CBOR decoder mode: %v", err))
	}
}

// FileLogger appends records to a file. It is safe for concurrent use.
type FileLogger struct {
	session string
	now     func() time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
}

// NewFileLogger opens path for appending, creating it with 0644 if needed.
// Every record written by the logger carries a fresh session ID.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &FileLogger{
		session: uuid.NewString(),
		now:     time.Now,
		file:    f,
		encoder: encMode.NewEncoder(f),
	}, nil
}

// Session returns the ID stamped on this logger's records.
func (l *FileLogger) Session() string { return l.session }

// LogRanging records a ranging delivery.
func (l *FileLogger) LogRanging(ev scan.RangingEvent) error {
	return l.write(RangingRecord(ev))
}

// LogMonitoring records a monitoring delivery.
func (l *FileLogger) LogMonitoring(ev scan.MonitoringEvent) error {
	return l.write(MonitoringRecord(ev))
}

// Log writes rec as is, filling in the timestamp and session when unset.
func (l *FileLogger) Log(rec Record) error {
	return l.write(rec)
}

func (l *FileLogger) write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.Session == "" {
		rec.Session = l.session
	}
	if err := l.encoder.Encode(rec); err != nil {
		return fmt.Errorf("eventlog: encode: %w", err)
	}
	return nil
}

// Close closes the file. Later writes are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// RangingRecord converts a ranging event to its record form.
func RangingRecord(ev scan.RangingEvent) Record {
	desc := ev.Descriptor()
	return Record{
		Feed:    FeedRanging,
		Region:  desc["region"].(map[string]any),
		Beacons: desc["beacons"].([]map[string]any),
	}
}

// MonitoringRecord converts a monitoring event to its record form.
func MonitoringRecord(ev scan.MonitoringEvent) Record {
	desc := ev.Descriptor()
	rec := Record{
		Feed:   FeedMonitoring,
		Event:  string(ev.Kind),
		Region: desc["region"].(map[string]any),
	}
	if s, ok := desc["state"].(string); ok {
		rec.State = s
	}
	return rec
}

// ReadAll decodes records from r until EOF.
func ReadAll(r io.Reader) ([]Record, error) {
	dec := decMode.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("eventlog: decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

// ReadFile decodes every record in the file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadAll(f)
}
