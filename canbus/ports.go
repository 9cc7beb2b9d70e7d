package canbus

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	goserial "github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// ListPorts returns a best-effort list of available serial port device
// names, sorted and de-duplicated.
//
// The cross-platform enumerator is preferred; glob fallbacks cover
// environments where it returns nothing.
func ListPorts() []string {
	if ports, err := enumerator.GetDetailedPortsList(); err == nil && len(ports) > 0 {
		out := make([]string, 0, len(ports))
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
		sort.Strings(out)
		return out
	}

	switch runtime.GOOS {
	case "windows":
		// Enumeration can be unreliable here; AutoDetectPort falls back to a
		// COM scan when this returns nothing.
		return nil
	case "darwin":
		return listByGlob("/dev/cu.*", "/dev/tty.*")
	default:
		return listByGlob("/dev/ttyUSB*", "/dev/ttyACM*")
	}
}

func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if m == "" {
				continue
			}
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// AutoDetectPort finds a serial port carrying controller traffic.
//
// The controller broadcasts weight samples continuously, so a port is
// considered a match when at least one valid frame decodes within the probe
// window. Enumerated ports are probed first; on Windows a COM1..COM64 scan
// is the fallback.
func AutoDetectPort(baud int) string {
	for _, name := range ListPorts() {
		if ProbePort(name, baud) {
			log.Printf("autodetect: found controller on %s", name)
			return name
		}
	}
	if runtime.GOOS == "windows" {
		for i := 1; i <= 64; i++ {
			name := fmt.Sprintf("COM%d", i)
			if ProbePort(name, baud) {
				log.Printf("autodetect: found controller on %s (scan)", name)
				return name
			}
		}
	}
	return ""
}

// ProbePort opens a port and listens briefly for a valid frame.
func ProbePort(name string, baud int) bool {
	cfg := &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: time.Millisecond * 50,
	}
	sp, err := goserial.OpenPort(cfg)
	if err != nil {
		return false
	}
	defer func() { _ = sp.Close() }()

	var dec Decoder
	tmp := make([]byte, 256)
	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		n, err := sp.Read(tmp)
		if n > 0 {
			dec.Write(tmp[:n])
			if _, ok := dec.Next(); ok {
				return true
			}
		}
		if err != nil && n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return false
}
