package ble

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
)

// Device is a discovered BLE peripheral's advertised name and address.
type Device struct {
	Name    string
	Address string
}

// Scan listens for advertisements for timeout and returns every device seen, utility
// only, not on the request path. Grounded on original_source's
// discover_devices: a bounded BLE scan returning {name, address} pairs.
func Scan(timeout time.Duration) ([]Device, error) {
	return scan(timeout, nil)
}

// ScanOBDDevices scans like Scan but filters to names matching any of
// the closed OBD adapter name patterns (case-insensitive), the same set
// original_source's discover_obd_devices uses.
func ScanOBDDevices(timeout time.Duration) ([]Device, error) {
	return scan(timeout, matchesOBDNamePattern)
}

// matchesOBDNamePattern reports whether name matches any of the closed
// OBD adapter name patterns, case-insensitively.
func matchesOBDNamePattern(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range obdNamePatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

func scan(timeout time.Duration, filter func(name string) bool) ([]Device, error) {
	dev, err := deviceFactory()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var mu sync.Mutex
	var found []Device
	seen := make(map[string]bool)

	err = ble.Scan(ctx, true, func(a ble.Advertisement) {
		name := a.LocalName()
		addr := a.Addr().String()
		if filter != nil && !filter(name) {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		found = append(found, Device{Name: name, Address: addr})
	}, nil)

	if err != nil && err != context.DeadlineExceeded {
		return nil, err
	}
	return found, nil
}
