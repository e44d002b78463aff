package output

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

var (
	_ ports.Alerter         = (*JSONAlerter)(nil)
	_ ports.Alerter         = (*MemoryAlerter)(nil)
	_ ports.AlertSubscriber = (*MemoryAlerter)(nil)
)

var levelRank = map[domain.AlertLevel]int{
	domain.AlertLevelInfo:     0,
	domain.AlertLevelWarning:  1,
	domain.AlertLevelCritical: 2,
}

// JSONAlerter writes one JSON document per line. Output is buffered and
// flushed every second and on Close.
type JSONAlerter struct {
	bufWriter *bufio.Writer
	file      *os.File
	encoder   *json.Encoder
	minLevel  domain.AlertLevel
	mu        sync.Mutex
	stopFlush chan struct{}
	stopOnce  sync.Once
}

type JSONAlerterConfig struct {
	FilePath string            // Output file path
	Stdout   bool              // Write to stdout instead of a file
	Writer   io.Writer         // Explicit destination, takes precedence
	MinLevel domain.AlertLevel // Alerts below this level are dropped
}

func NewJSONAlerter(config JSONAlerterConfig) (*JSONAlerter, error) {
	var writer io.Writer
	var file *os.File

	switch {
	case config.Writer != nil:
		writer = config.Writer
	case config.Stdout:
		writer = os.Stdout
	case config.FilePath != "":
		var err error
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		writer = file
	default:
		writer = io.Discard
	}

	bufWriter := bufio.NewWriterSize(writer, 32*1024)
	a := &JSONAlerter{
		bufWriter: bufWriter,
		file:      file,
		encoder:   json.NewEncoder(bufWriter),
		minLevel:  config.MinLevel,
		stopFlush: make(chan struct{}),
	}
	go a.periodicFlush()
	return a, nil
}

func (a *JSONAlerter) periodicFlush() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = a.Flush()
		case <-a.stopFlush:
			return
		}
	}
}

func (a *JSONAlerter) Send(_ context.Context, alert *domain.Alert) error {
	if levelRank[alert.Level] < levelRank[a.minLevel] {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.encoder.Encode(alert)
}

func (a *JSONAlerter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.bufWriter.Flush(); err != nil {
		return err
	}
	if a.file != nil {
		return a.file.Sync()
	}
	return nil
}

func (a *JSONAlerter) Close() error {
	a.stopOnce.Do(func() { close(a.stopFlush) })

	if err := a.Flush(); err != nil {
		return err
	}
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// MemoryAlerter keeps the most recent alerts in a ring buffer for the admin
// metrics endpoint.
type MemoryAlerter struct {
	alerts []*domain.Alert
	head   int
	count  int
	mu     sync.RWMutex
}

func NewMemoryAlerter(capacity int) *MemoryAlerter {
	if capacity <= 0 {
		capacity = 200
	}
	return &MemoryAlerter{alerts: make([]*domain.Alert, capacity)}
}

func (a *MemoryAlerter) Send(_ context.Context, alert *domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.alerts[a.head] = alert
	a.head = (a.head + 1) % len(a.alerts)
	if a.count < len(a.alerts) {
		a.count++
	}
	return nil
}

func (a *MemoryAlerter) Flush() error {
	return nil
}

func (a *MemoryAlerter) Close() error {
	return nil
}

// Latest returns up to n alerts, newest first. n <= 0 returns all.
func (a *MemoryAlerter) Latest(n int) []*domain.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n <= 0 || n > a.count {
		n = a.count
	}
	out := make([]*domain.Alert, 0, n)
	for i := 1; i <= n; i++ {
		idx := (a.head - i + len(a.alerts)) % len(a.alerts)
		out = append(out, a.alerts[idx])
	}
	return out
}

// ForOrigin returns retained alerts raised for origin, newest first.
func (a *MemoryAlerter) ForOrigin(origin string) []*domain.Alert {
	var out []*domain.Alert
	for _, al := range a.Latest(0) {
		if al.Origin == origin {
			out = append(out, al)
		}
	}
	return out
}

func (a *MemoryAlerter) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

func (a *MemoryAlerter) OnAlert(alert *domain.Alert) {
	_ = a.Send(context.Background(), alert)
}
