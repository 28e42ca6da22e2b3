/* SPDX-License-Identifier: MIT */

package host

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	gnet "github.com/shirou/gopsutil/net"
)

// SystemClock is the default Clock: time.Since against a fixed process
// start, which on every Go runtime is backed by the monotonic clock
// reading attached to time.Time — it never moves backwards even if the
// wall clock is adjusted.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock { return &SystemClock{start: time.Now()} }

func (c *SystemClock) NowMs() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// CryptoRandom is the default Random, backed by crypto/rand.
type CryptoRandom struct{}

func (CryptoRandom) Read(p []byte) (int, error) { return rand.Read(p) }

// GopsutilStatus reports DeviceStatus using real interface counters via
// gopsutil/net. gopsutil has no cross-platform battery sensor API, so
// BatteryPercent here is host-supplied (defaults to 100, i.e. "mains
// powered") rather than fabricated from an unrelated signal; everything
// else in the snapshot — which transports have a live link, whether the
// host is online at all — is read from the real interface table.
type GopsutilStatus struct {
	mu           sync.RWMutex
	batteryPct   uint8
	pollInterval time.Duration
}

func NewGopsutilStatus() *GopsutilStatus {
	return &GopsutilStatus{batteryPct: 100, pollInterval: 5 * time.Second}
}

// SetBatteryPercent lets the embedding application push a real battery
// reading (from whatever platform API it has, out of this core's scope
// per spec.md §1) without the core depending on platform-specific code.
func (g *GopsutilStatus) SetBatteryPercent(pct uint8) {
	g.mu.Lock()
	g.batteryPct = pct
	g.mu.Unlock()
}

func (g *GopsutilStatus) DeviceStatus() DeviceStatus {
	g.mu.RLock()
	pct := g.batteryPct
	g.mu.RUnlock()

	ifaces, err := gnet.Interfaces()
	online := false
	available := make([]string, 0, 4)
	if err == nil {
		for _, ifc := range ifaces {
			up := false
			for _, flag := range ifc.Flags {
				if flag == "up" {
					up = true
					break
				}
			}
			if !up || len(ifc.Addrs) == 0 {
				continue
			}
			if ifc.Name == "lo" || ifc.Name == "lo0" {
				continue
			}
			online = true
			available = append(available, ifc.Name)
		}
	}

	return DeviceStatus{
		BatteryPercent:      pct,
		Online:              online,
		TransportsAvailable: available,
	}
}

// FileBlobStore is a minimal persistent BlobStore backed by one JSON file
// per key's directory, enough to persist node_id and verified pair
// records across restarts without pulling in a database dependency the
// examples never reach for in this spot.
type FileBlobStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileBlobStore{dir: dir}, nil
}

func (f *FileBlobStore) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileBlobStore) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var envelope struct {
		Value []byte `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false, err
	}
	return envelope.Value, true, nil
}

func (f *FileBlobStore) Put(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.Marshal(struct {
		Value []byte `json:"value"`
	}{Value: value})
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(key), raw, 0o600)
}
