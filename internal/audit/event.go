package audit

import (
	"time"
)

const (
	eventVersion = "1.0"
	eventType    = "pda_report_filed"
)

// Event is one tamper-evident record of a report being filed in the shared
// directory, either freshly acquired or reconciled from an existing file.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Report   ReportInfo   `json:"report"`
	Producer ProducerInfo `json:"producer"`
	Chain    ChainInfo    `json:"chain"`
}

// ReportInfo describes the filed report.
type ReportInfo struct {
	Worker        string   `json:"worker"`
	RunID         string   `json:"run_id"`
	State         string   `json:"state"`
	FileName      string   `json:"file_name"`
	Renamed       bool     `json:"renamed"`
	Checksum      string   `json:"checksum"`
	ByteSize      int64    `json:"byte_size"`
	Pages         int      `json:"pages,omitempty"`
	CandidateKeys []string `json:"candidate_keys"`
}

// ProducerInfo identifies the software that filed the report.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ChainInfo provides hash chaining for a tamper-evident audit log.
type ChainInfo struct {
	Seq           int64  `json:"seq"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event belongs to. Each worker keeps its own
// chain so machines never contend on chain heads.
func (e *Event) ChainKey() string {
	return e.Report.Worker
}

// SetChainHashes places the event after prev and computes its own hash. A
// zero prev starts a new chain at seq 1.
func (e *Event) SetChainHashes(prev Head) {
	e.Chain.Seq = prev.Seq + 1
	e.Chain.PrevEventHash = prev.Hash
	e.Chain.EventHash = ComputeEventHash(e)
}
