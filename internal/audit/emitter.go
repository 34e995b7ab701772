package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/withObsrvr/pda-report-collector/internal/util"
)

// Config controls audit emission.
type Config struct {
	Enabled  bool
	Endpoint string // optional HTTP collector; events are always written to Dir
	Dir      string
	Producer ProducerInfo
}

// Report is the simplified record handed over by the collector. It is
// converted to an Event before emission.
type Report struct {
	Worker        string
	RunID         string
	State         string
	Path          string
	FileName      string
	Renamed       bool
	Pages         int
	CandidateKeys []string
}

// Emitter records filed reports.
type Emitter interface {
	EmitReport(ctx context.Context, r Report) error
	Close() error
}

// NewEmitter creates an appropriate emitter based on configuration.
func NewEmitter(cfg Config) Emitter {
	if !cfg.Enabled {
		log.Println("[audit] disabled, using no-op emitter")
		return &noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			log.Printf("[audit] failed to create HTTP emitter: %v, falling back to file-only", err)
			return createFileOnlyEmitter(cfg)
		}
		log.Printf("[audit] using HTTP emitter -> %s", cfg.Endpoint)
		return &httpEmitterWrapper{emitter: emitter, producer: cfg.Producer}
	}

	return createFileOnlyEmitter(cfg)
}

func createFileOnlyEmitter(cfg Config) Emitter {
	emitter, err := NewFileOnlyEmitter(cfg.Dir)
	if err != nil {
		log.Printf("[audit] failed to create file emitter: %v, using no-op", err)
		return &noopEmitter{}
	}
	log.Printf("[audit] using file-only emitter -> %s", cfg.Dir)
	return &fileOnlyEmitterWrapper{emitter: emitter, producer: cfg.Producer}
}

type httpEmitterWrapper struct {
	emitter  *HTTPEmitter
	producer ProducerInfo
}

func (w *httpEmitterWrapper) EmitReport(ctx context.Context, r Report) error {
	evt, err := convertToEvent(r, w.producer)
	if err != nil {
		return err
	}
	return w.emitter.Emit(ctx, &evt)
}

func (w *httpEmitterWrapper) Close() error {
	return w.emitter.Close()
}

type fileOnlyEmitterWrapper struct {
	emitter  *FileOnlyEmitter
	producer ProducerInfo
}

func (w *fileOnlyEmitterWrapper) EmitReport(_ context.Context, r Report) error {
	evt, err := convertToEvent(r, w.producer)
	if err != nil {
		return err
	}
	return w.emitter.Emit(&evt)
}

func (w *fileOnlyEmitterWrapper) Close() error {
	return w.emitter.Close()
}

// convertToEvent checksums the filed report and builds the full Event.
func convertToEvent(r Report, producer ProducerInfo) (Event, error) {
	sum, size, err := util.FileChecksum(r.Path)
	if err != nil {
		return Event{}, fmt.Errorf("checksum %s: %w", r.FileName, err)
	}

	return Event{
		Version:   eventVersion,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Report: ReportInfo{
			Worker:        r.Worker,
			RunID:         r.RunID,
			State:         r.State,
			FileName:      r.FileName,
			Renamed:       r.Renamed,
			Checksum:      sum,
			ByteSize:      size,
			Pages:         r.Pages,
			CandidateKeys: r.CandidateKeys,
		},
		Producer: producer,
	}, nil
}

type noopEmitter struct{}

func (n *noopEmitter) EmitReport(_ context.Context, _ Report) error {
	return nil
}

func (n *noopEmitter) Close() error {
	return nil
}
