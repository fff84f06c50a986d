// Package ble implements elm327.ByteTransport over a Bluetooth Low
// Energy GATT connection using github.com/go-ble/ble. It is the only
// transport whose timing and concurrency are non-trivial: notifications
// arrive on go-ble's own dispatch goroutine and are appended to a
// mutex-guarded receive buffer that synchronous Read/ReadUntil callers
// poll, while a single background worker goroutine only watches the
// connection for disconnect.
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/obdkit/elm327"
)

// Common service UUIDs tried when the caller does not specify one: the
// widely cloned ELM327 BLE UART service, and the Vgate iCar Pro /
// IOS-Vlink vendor service.
const (
	UUIDStandardELM327 = "0000fff0-0000-1000-8000-00805f9b34fb"
	UUIDVgateICarPro   = "e7810a71-73ae-499d-8c15-faa9aef0c3f2"
)

var commonServiceUUIDs = []string{UUIDStandardELM327, UUIDVgateICarPro}

// obdNamePatterns are matched case-insensitively against advertised
// device names by Scan/ScanOBDDevices.
var obdNamePatterns = []string{"vgate", "vlink", "obd", "elm", "icar", "v-link", "ios-vlink"}

// pollInterval is the cadence at which Read/ReadUntil poll the receive
// buffer; spec.md §4.2 requires <=20ms.
const pollInterval = 15 * time.Millisecond

// Config configures a Transport. Address is required; ServiceUUID,
// NotifyUUID and WriteUUID are optional filters on characteristic-property
// discovery: when one is set, only the matching service or characteristic
// is considered, and Open fails if none matches.
type Config struct {
	Address        string
	ServiceUUID    string
	NotifyUUID     string
	WriteUUID      string
	ConnectTimeout time.Duration
	Logger         *logrus.Entry
}

// Option mutates a Config during construction.
type Option func(*Config)

func WithServiceUUID(uuid string) Option { return func(c *Config) { c.ServiceUUID = uuid } }
func WithNotifyUUID(uuid string) Option  { return func(c *Config) { c.NotifyUUID = uuid } }
func WithWriteUUID(uuid string) Option   { return func(c *Config) { c.WriteUUID = uuid } }
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}
func WithLogger(l *logrus.Entry) Option { return func(c *Config) { c.Logger = l } }

// deviceFactory creates the platform ble.Device used to dial the
// peripheral. Overridable in tests.
var deviceFactory = func() (ble.Device, error) {
	return ble.NewDevice()
}

// Transport is a GATT-backed elm327.ByteTransport.
type Transport struct {
	cfg Config

	mu      sync.Mutex
	rx      []byte
	open    bool
	client  ble.Client
	notify  *ble.Characteristic
	write   *ble.Characteristic
	group   *errgroup.Group
	groupCx context.CancelFunc
}

// New returns a Transport for addr, applying opts over sensible
// defaults (10s connect deadline).
func New(addr string, opts ...Option) *Transport {
	cfg := Config{Address: addr, ConnectTimeout: 10 * time.Second, Logger: elmLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{cfg: cfg}
}

func elmLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l.WithField("component", "elm327/ble")
}

// Open establishes the GATT link, discovers the notify/write
// characteristics (caller-supplied UUIDs first, else scan by property,
// optionally restricted to ServiceUUID), subscribes to notifications,
// and starts the background worker that watches the connection for
// disconnect. Idempotent when already open.
func (t *Transport) Open() error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	dev, err := deviceFactory()
	if err != nil {
		return elm327.WrapTransportOpen("creating ble device", err)
	}
	ble.SetDefaultDevice(dev)

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	defer cancel()

	client, err := ble.Dial(ctx, ble.NewAddr(t.cfg.Address))
	if err != nil {
		return elm327.WrapTransportOpen(fmt.Sprintf("dialing %s", t.cfg.Address), err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return elm327.WrapTransportOpen("discovering gatt profile", err)
	}

	notifyChar, writeChar, err := t.selectCharacteristics(profile)
	if err != nil {
		_ = client.CancelConnection()
		return err
	}

	if err := client.Subscribe(notifyChar, false, t.onNotification); err != nil {
		_ = client.CancelConnection()
		return elm327.WrapTransportOpen("subscribing to notify characteristic", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	group, workerCtx := errgroup.WithContext(workerCtx)
	group.Go(func() error {
		select {
		case <-client.Disconnected():
			return nil
		case <-workerCtx.Done():
			return nil
		}
	})

	t.mu.Lock()
	t.client = client
	t.notify = notifyChar
	t.write = writeChar
	t.group = group
	t.groupCx = workerCancel
	t.open = true
	t.mu.Unlock()

	t.cfg.Logger.WithFields(logrus.Fields{
		"address": t.cfg.Address,
		"notify":  notifyChar.UUID.String(),
		"write":   writeChar.UUID.String(),
	}).Debug("ble transport open")
	return nil
}

// onNotification appends a received notification's bytes to the receive
// buffer under mu. It runs on go-ble's own dispatch goroutine; this is
// the only place the background worker and the synchronous Read/ReadUntil
// callers share state.
func (t *Transport) onNotification(data []byte) {
	t.mu.Lock()
	t.rx = append(t.rx, data...)
	t.mu.Unlock()
}

// selectCharacteristics tries caller-supplied UUIDs first. When no
// ServiceUUID was configured it then tries each of commonServiceUUIDs
// (the ELM327 BLE UART and Vgate iCar Pro service hints, spec.md §6) in
// turn before falling back to an unrestricted scan of every service.
func (t *Transport) selectCharacteristics(profile *ble.Profile) (notify, write *ble.Characteristic, err error) {
	if t.cfg.ServiceUUID != "" {
		return scanServices(profile, t.cfg.ServiceUUID, t.cfg.NotifyUUID, t.cfg.WriteUUID)
	}

	for _, hint := range commonServiceUUIDs {
		if n, w, ferr := scanServices(profile, hint, t.cfg.NotifyUUID, t.cfg.WriteUUID); ferr == nil {
			return n, w, nil
		}
	}

	return scanServices(profile, "", t.cfg.NotifyUUID, t.cfg.WriteUUID)
}

// scanServices scans profile for the first notify/indicate and
// write/write-without-response characteristics, restricted to
// serviceUUID when non-empty.
func scanServices(profile *ble.Profile, serviceUUID, notifyUUID, writeUUID string) (notify, write *ble.Characteristic, err error) {
	for _, svc := range profile.Services {
		if serviceUUID != "" && !uuidEquals(svc.UUID, serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if notify == nil && (notifyUUID == "" || uuidEquals(c.UUID, notifyUUID)) {
				if c.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
					notify = c
				}
			}
			if write == nil && (writeUUID == "" || uuidEquals(c.UUID, writeUUID)) {
				if c.Property&(ble.CharWrite|ble.CharWriteNR) != 0 {
					write = c
				}
			}
		}
	}

	if notify == nil {
		return nil, nil, elm327.WrapTransportOpen("no notify characteristic found", nil)
	}
	if write == nil {
		return nil, nil, elm327.WrapTransportOpen("no write characteristic found", nil)
	}
	return notify, write, nil
}

func uuidEquals(u ble.UUID, s string) bool {
	return strings.EqualFold(strings.ReplaceAll(u.String(), "-", ""), strings.ReplaceAll(s, "-", ""))
}

// Close stops the background worker and disconnects the GATT client.
// Idempotent and safe after a partial Open failure.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	client := t.client
	cancel := t.groupCx
	group := t.group
	t.open = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var groupErr error
	if group != nil {
		groupErr = group.Wait()
	}
	var closeErr error
	if client != nil {
		closeErr = client.CancelConnection()
	}
	if closeErr != nil {
		return closeErr
	}
	return groupErr
}

// Write issues one GATT write to the write characteristic. No
// fragmentation is imposed here; the caller sends one ELM327 command
// line at a time.
func (t *Transport) Write(data []byte) (int, error) {
	t.mu.Lock()
	client, write, open := t.client, t.write, t.open
	t.mu.Unlock()
	if !open {
		return 0, elm327.WrapTransportOpen("write on unopened transport", nil)
	}

	noRsp := write.Property&ble.CharWriteNR != 0
	if err := client.WriteCharacteristic(write, data, noRsp); err != nil {
		return 0, elm327.WrapTransportWrite("ble gatt write", err)
	}
	return len(data), nil
}

// Read polls the receive buffer at pollInterval and returns as soon as
// at least one byte is buffered (copying up to len(buf) bytes), or fails
// with ErrTransportTimeout once the ConnectTimeout deadline elapses.
func (t *Transport) Read(buf []byte) (int, error) {
	deadline := time.Now().Add(t.defaultDeadline())
	for {
		t.mu.Lock()
		if len(t.rx) > 0 {
			n := copy(buf, t.rx)
			t.rx = t.rx[n:]
			t.mu.Unlock()
			return n, nil
		}
		t.mu.Unlock()

		if time.Now().After(deadline) {
			return 0, elm327.ErrTransportTimeout
		}
		time.Sleep(pollInterval)
	}
}

// ReadUntil scans the receive buffer for terminator at pollInterval
// cadence, returning the prefix including the terminator and retaining
// the suffix in the buffer.
func (t *Transport) ReadUntil(terminator byte, deadline time.Duration) ([]byte, error) {
	end := time.Now().Add(deadline)
	for {
		t.mu.Lock()
		idx := indexByte(t.rx, terminator)
		if idx >= 0 {
			out := append([]byte(nil), t.rx[:idx+1]...)
			t.rx = t.rx[idx+1:]
			t.mu.Unlock()
			return out, nil
		}
		t.mu.Unlock()

		if time.Now().After(end) {
			return nil, elm327.ErrTransportTimeout
		}
		time.Sleep(pollInterval)
	}
}

func indexByte(b []byte, target byte) int {
	for i, v := range b {
		if v == target {
			return i
		}
	}
	return -1
}

// FlushInput atomically empties the receive buffer.
func (t *Transport) FlushInput() error {
	t.mu.Lock()
	t.rx = nil
	t.mu.Unlock()
	return nil
}

// FlushOutput is a no-op: GATT writes have no host-side output buffer to force.
func (t *Transport) FlushOutput() error { return nil }

// NeedsDelays is true: real ELM327 hardware over BLE needs the
// controller's settling delays.
func (t *Transport) NeedsDelays() bool { return true }

func (t *Transport) defaultDeadline() time.Duration {
	return t.cfg.ConnectTimeout
}

var _ elm327.ByteTransport = (*Transport)(nil)
