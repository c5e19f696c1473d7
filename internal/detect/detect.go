// Package detect finds serial ports with a LoRa AT modem attached.
package detect

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/bigbag/meshrelay/internal/serial"
)

// AutoPort is the port name that requests detection.
const AutoPort = "auto"

const (
	probeCommand  = "AT\r\n"
	probeAttempts = 3
	probeWait     = 300 * time.Millisecond
)

// Result represents a port that answered the probe.
type Result struct {
	Port    string `json:"port" yaml:"port"`
	Product string `json:"product" yaml:"product"`
	Reply   string `json:"reply" yaml:"reply"`
}

// Opener opens a port by name. It is serial.Open by default.
type Opener func(name string, baud int) (io.ReadWriteCloser, error)

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(name, baud)
}

// Detector probes ports for a modem.
type Detector struct {
	Open     Opener
	List     func() ([]serial.Info, error)
	Attempts int
	Wait     time.Duration
}

func New() *Detector {
	return &Detector{
		Open:     openSerial,
		List:     serial.ListPorts,
		Attempts: probeAttempts,
		Wait:     probeWait,
	}
}

// DetectModem returns the first port that answers the probe. USB ports
// are tried before the others.
func (d *Detector) DetectModem(baudRate int) (*Result, error) {
	ports, err := d.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, info := range usbFirst(ports) {
		result, err := d.tryPort(info, baudRate)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no modem found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no modem found")
}

// ListModems probes every port and returns those that answered.
func (d *Detector) ListModems(baudRate int) ([]Result, error) {
	ports, err := d.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, info := range usbFirst(ports) {
		result, err := d.tryPort(info, baudRate)
		if err == nil {
			results = append(results, *result)
		}
	}
	return results, nil
}

func (d *Detector) tryPort(info serial.Info, baudRate int) (*Result, error) {
	port, err := d.Open(info.Name, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	reply, err := Probe(port, d.Attempts, d.Wait)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", info.Name, err)
	}
	return &Result{Port: info.Name, Product: info.Product, Reply: reply}, nil
}

// Probe writes AT and waits for +OK, retrying up to attempts times. rw
// may return (0, nil) from Read while idle.
func Probe(rw io.ReadWriter, attempts int, wait time.Duration) (string, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if _, err := io.WriteString(rw, probeCommand); err != nil {
			continue
		}
		if reply, ok := readReply(rw, wait); ok {
			return reply, nil
		}
	}
	return "", fmt.Errorf("no reply to AT after %d attempts", attempts)
}

func readReply(r io.Reader, wait time.Duration) (string, bool) {
	deadline := time.Now().Add(wait)
	var acc []byte
	buf := make([]byte, 64)

	for time.Now().Before(deadline) {
		n, err := r.Read(buf)
		acc = append(acc, buf[:n]...)
		for {
			i := bytes.IndexByte(acc, '\n')
			if i < 0 {
				break
			}
			line := string(bytes.TrimSpace(acc[:i]))
			acc = acc[i+1:]
			if line == "+OK" {
				return line, true
			}
		}
		if err != nil {
			return "", false
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return "", false
}

func usbFirst(ports []serial.Info) []serial.Info {
	out := make([]serial.Info, 0, len(ports))
	for _, p := range ports {
		if p.IsUSB {
			out = append(out, p)
		}
	}
	for _, p := range ports {
		if !p.IsUSB {
			out = append(out, p)
		}
	}
	return out
}
