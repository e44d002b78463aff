package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
)

const (
	spoolKindPending     = "pending"
	spoolKindQuarantined = "quarantined"
)

// SpoolEntry is one JSON line of the spool file.
type SpoolEntry struct {
	Kind      string               `json:"kind"`
	Timestamp time.Time            `json:"timestamp"`
	Reason    string               `json:"reason,omitempty"`
	WorkerID  int                  `json:"worker_id,omitempty"`
	Job       *domain.DiagnosisJob `json:"job"`
}

// Spool persists jobs that could not be handed to a worker. Pending jobs are
// replayed by Drain; jobs whose processing panicked go to a separate
// quarantine file and are never replayed.
//
// A Spool opened with an empty path is disabled and accepts nothing.
type Spool struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	quarantine *os.File
	mu         sync.Mutex
	pending    atomic.Int64
	toxic      atomic.Int64
	enabled    bool
}

func OpenSpool(path string) (*Spool, error) {
	if path == "" {
		return &Spool{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	quarantine, err := os.OpenFile(path+".quarantine", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		file.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Job spool initialized")

	return &Spool{
		path:       path,
		file:       file,
		writer:     bufio.NewWriterSize(file, 16*1024),
		quarantine: quarantine,
		enabled:    true,
	}, nil
}

func (s *Spool) Enabled() bool {
	return s.enabled
}

// Append stores a job for replay on the next Drain.
func (s *Spool) Append(job *domain.DiagnosisJob, reason string) error {
	if !s.enabled {
		return fmt.Errorf("spool disabled")
	}

	line, err := json.Marshal(SpoolEntry{
		Kind:      spoolKindPending,
		Timestamp: time.Now(),
		Reason:    reason,
		Job:       job,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(line); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	s.pending.Add(1)
	return nil
}

// Quarantine records a job whose processing panicked.
func (s *Spool) Quarantine(workerID int, panicErr interface{}, job *domain.DiagnosisJob) error {
	if !s.enabled {
		return nil
	}

	panicStr := "unknown panic"
	switch v := panicErr.(type) {
	case nil:
	case error:
		panicStr = v.Error()
	case string:
		panicStr = v
	default:
		panicStr = fmt.Sprintf("%v", v)
	}

	line, err := json.Marshal(SpoolEntry{
		Kind:      spoolKindQuarantined,
		Timestamp: time.Now(),
		Reason:    panicStr,
		WorkerID:  workerID,
		Job:       job,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.quarantine.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := s.quarantine.Sync(); err != nil {
		return err
	}
	s.toxic.Add(1)

	log.Warn().
		Int("worker_id", workerID).
		Str("panic", panicStr).
		Int64("quarantine_count", s.toxic.Load()).
		Msg("Diagnosis job quarantined")
	return nil
}

// Drain returns every pending job and truncates the spool. Malformed lines
// are skipped.
func (s *Spool) Drain() ([]*domain.DiagnosisJob, error) {
	if !s.enabled {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}

	var jobs []*domain.DiagnosisJob
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for lineNo := 1; sc.Scan(); lineNo++ {
		var entry SpoolEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil || entry.Job == nil {
			log.Warn().Int("line", lineNo).Str("path", s.path).Msg("Skipping malformed spool entry")
			continue
		}
		if entry.Kind == spoolKindPending {
			jobs = append(jobs, entry.Job)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan spool: %w", err)
	}

	if err := s.file.Truncate(0); err != nil {
		return nil, fmt.Errorf("truncate spool: %w", err)
	}
	s.pending.Store(0)
	return jobs, nil
}

// Pending returns the number of jobs appended since the last Drain.
func (s *Spool) Pending() int64 {
	return s.pending.Load()
}

func (s *Spool) Quarantined() int64 {
	return s.toxic.Load()
}

func (s *Spool) Close() error {
	if !s.enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}
	if n := s.pending.Load(); n > 0 {
		log.Warn().
			Int64("spooled", n).
			Str("path", s.path).
			Msg("Spool contains unprocessed diagnosis jobs")
	}
	if err := s.quarantine.Close(); err != nil {
		return err
	}
	return s.file.Close()
}
