package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultReadTimeout bounds each Read so reader loops can observe shutdown.
const DefaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port attached to the radio modem or to a raw byte
// feed.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate, 8N1.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	// A read that times out returns (0, nil).
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// Info describes an available serial port.
type Info struct {
	Name         string `json:"name" yaml:"name"`
	IsUSB        bool   `json:"usb" yaml:"usb"`
	VID          string `json:"vid" yaml:"vid"`
	PID          string `json:"pid" yaml:"pid"`
	SerialNumber string `json:"serial" yaml:"serial"`
	Product      string `json:"product" yaml:"product"`
}

// ListPorts returns the available serial ports. USB details are filled in
// when the platform enumerator provides them.
func ListPorts() ([]Info, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		ports := make([]Info, 0, len(details))
		for _, d := range details {
			ports = append(ports, Info{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]Info, 0, len(names))
	for _, name := range names {
		ports = append(ports, Info{Name: name})
	}
	return ports, nil
}
