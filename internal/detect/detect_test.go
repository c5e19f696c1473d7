package detect

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bigbag/meshrelay/internal/serial"
)

// fakeModem answers every AT with reply after ignoring the first skip
// probes. Read returns (0, nil) when nothing is pending.
type fakeModem struct {
	mu      sync.Mutex
	reply   string
	skip    int
	pending bytes.Buffer
	writes  int
	closed  bool
}

func (m *fakeModem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if string(p) == "AT\r\n" && m.writes > m.skip && m.reply != "" {
		m.pending.WriteString(m.reply)
	}
	return len(p), nil
}

func (m *fakeModem) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending.Len() == 0 {
		return 0, nil
	}
	return m.pending.Read(p)
}

func (m *fakeModem) Close() error {
	m.closed = true
	return nil
}

func TestProbe_OK(t *testing.T) {
	m := &fakeModem{reply: "+OK\r\n"}
	reply, err := Probe(m, 3, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if reply != "+OK" {
		t.Errorf("reply = %q, want +OK", reply)
	}
	if m.writes != 1 {
		t.Errorf("writes = %d, want 1", m.writes)
	}
}

func TestProbe_Retries(t *testing.T) {
	m := &fakeModem{reply: "+OK\r\n", skip: 2}
	if _, err := Probe(m, 3, 30*time.Millisecond); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if m.writes != 3 {
		t.Errorf("writes = %d, want 3", m.writes)
	}
}

func TestProbe_IgnoresOtherLines(t *testing.T) {
	m := &fakeModem{reply: "+READY\r\n+ERR=4\r\n"}
	if _, err := Probe(m, 2, 30*time.Millisecond); err == nil {
		t.Error("Probe() error = nil, want no reply")
	}
}

func TestProbe_NoReply(t *testing.T) {
	m := &fakeModem{}
	if _, err := Probe(m, 2, 20*time.Millisecond); err == nil {
		t.Error("Probe() error = nil, want error")
	}
	if m.writes != 2 {
		t.Errorf("writes = %d, want 2", m.writes)
	}
}

func newDetector(ports []serial.Info, modems map[string]*fakeModem) *Detector {
	return &Detector{
		Open: func(name string, baud int) (io.ReadWriteCloser, error) {
			m, ok := modems[name]
			if !ok {
				return nil, errors.New("no such port")
			}
			return m, nil
		},
		List:     func() ([]serial.Info, error) { return ports, nil },
		Attempts: 1,
		Wait:     20 * time.Millisecond,
	}
}

func TestDetectModem_PrefersUSB(t *testing.T) {
	ports := []serial.Info{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, Product: "CP2102"},
	}
	modems := map[string]*fakeModem{
		"/dev/ttyS0":   {reply: "+OK\r\n"},
		"/dev/ttyUSB0": {reply: "+OK\r\n"},
	}

	result, err := newDetector(ports, modems).DetectModem(115200)
	if err != nil {
		t.Fatalf("DetectModem() error = %v", err)
	}
	if result.Port != "/dev/ttyUSB0" || result.Product != "CP2102" {
		t.Errorf("result = %+v", result)
	}
	if !modems["/dev/ttyUSB0"].closed {
		t.Error("probed port not closed")
	}
	if modems["/dev/ttyS0"].writes != 0 {
		t.Error("non-USB port probed after a USB match")
	}
}

func TestDetectModem_NoPorts(t *testing.T) {
	if _, err := newDetector(nil, nil).DetectModem(115200); err == nil {
		t.Error("DetectModem() error = nil, want error")
	}
}

func TestDetectModem_NoneAnswer(t *testing.T) {
	ports := []serial.Info{{Name: "/dev/ttyS0"}, {Name: "/dev/missing"}}
	modems := map[string]*fakeModem{"/dev/ttyS0": {}}
	if _, err := newDetector(ports, modems).DetectModem(115200); err == nil {
		t.Error("DetectModem() error = nil, want error")
	}
}

func TestListModems(t *testing.T) {
	ports := []serial.Info{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	modems := map[string]*fakeModem{
		"a": {reply: "+OK\r\n"},
		"b": {},
		"c": {reply: "+OK\r\n"},
	}
	results, err := newDetector(ports, modems).ListModems(115200)
	if err != nil {
		t.Fatalf("ListModems() error = %v", err)
	}
	if len(results) != 2 || results[0].Port != "a" || results[1].Port != "c" {
		t.Errorf("results = %+v", results)
	}
}
