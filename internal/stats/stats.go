// Package stats aggregates relay counters. Statistics is the node's
// canonical record; other sinks (Prometheus) can mirror every update.
package stats

import (
	"sync"
)

// Sink receives counter updates from the decoder, the host loop and the
// forward controller.
type Sink interface {
	RecordReceived(rssi, snr float64)
	RecordForwarded()
	RecordCRCError()
	RecordHeaderError()
	RecordOverflow()
	RecordLengthError()
	RecordSendFailure()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	PacketsReceived  uint64  `json:"packets_received" yaml:"packets_received"`
	PacketsForwarded uint64  `json:"packets_forwarded" yaml:"packets_forwarded"`
	CRCErrors        uint64  `json:"crc_errors" yaml:"crc_errors"`
	HeaderErrors     uint64  `json:"header_errors" yaml:"header_errors"`
	OverflowErrors   uint64  `json:"overflow_errors" yaml:"overflow_errors"`
	LengthErrors     uint64  `json:"length_errors" yaml:"length_errors"`
	SendFailures     uint64  `json:"send_failures" yaml:"send_failures"`
	AvgRSSI          float64 `json:"avg_rssi_dbm" yaml:"avg_rssi_dbm"`
	AvgSNR           float64 `json:"avg_snr_db" yaml:"avg_snr_db"`
	NetworkID        uint16  `json:"network_id" yaml:"network_id"`
}

// Statistics holds monotonically increasing counters and running signal
// averages. It is safe for concurrent use; the host loop writes and
// diagnostics read.
type Statistics struct {
	mu      sync.RWMutex
	snap    Snapshot
	mirrors []Sink
}

// New returns empty statistics. Every update is also passed to mirrors.
func New(networkID uint16, mirrors ...Sink) *Statistics {
	return &Statistics{
		snap:    Snapshot{NetworkID: networkID},
		mirrors: mirrors,
	}
}

// RecordReceived counts a delivered message and folds its signal metrics
// into the running averages.
func (s *Statistics) RecordReceived(rssi, snr float64) {
	s.mu.Lock()
	s.snap.PacketsReceived++
	n := float64(s.snap.PacketsReceived)
	s.snap.AvgRSSI += (rssi - s.snap.AvgRSSI) / n
	s.snap.AvgSNR += (snr - s.snap.AvgSNR) / n
	s.mu.Unlock()

	for _, m := range s.mirrors {
		m.RecordReceived(rssi, snr)
	}
}

func (s *Statistics) RecordForwarded() {
	s.update(func(sn *Snapshot) { sn.PacketsForwarded++ }, Sink.RecordForwarded)
}

func (s *Statistics) RecordCRCError() {
	s.update(func(sn *Snapshot) { sn.CRCErrors++ }, Sink.RecordCRCError)
}

func (s *Statistics) RecordHeaderError() {
	s.update(func(sn *Snapshot) { sn.HeaderErrors++ }, Sink.RecordHeaderError)
}

func (s *Statistics) RecordOverflow() {
	s.update(func(sn *Snapshot) { sn.OverflowErrors++ }, Sink.RecordOverflow)
}

// RecordLengthError counts a radio message rejected by the length guard.
// Length errors are also booked as CRC errors.
func (s *Statistics) RecordLengthError() {
	s.update(func(sn *Snapshot) {
		sn.LengthErrors++
		sn.CRCErrors++
	}, Sink.RecordLengthError)
}

func (s *Statistics) RecordSendFailure() {
	s.update(func(sn *Snapshot) { sn.SendFailures++ }, Sink.RecordSendFailure)
}

// PacketsForwarded returns the forwarded count, which doubles as the hop
// ceiling input.
func (s *Statistics) PacketsForwarded() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.PacketsForwarded
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Statistics) update(fn func(*Snapshot), mirror func(Sink)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()

	for _, m := range s.mirrors {
		mirror(m)
	}
}
