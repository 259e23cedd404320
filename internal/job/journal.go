package job

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Action is a write-ahead log record kind.
type Action string

const (
	ActionEnqueue  Action = "ENQUEUE"
	ActionRetry    Action = "RETRY"
	ActionComplete Action = "COMPLETE"
)

// Journal persists job lifecycle records so unfinished jobs survive a restart.
type Journal interface {
	Record(action Action, env Envelope) error
	Recover() ([]Envelope, error)
	Close() error
}

// JournalMetrics tracks persistence statistics.
type JournalMetrics struct {
	Written   uint64 `json:"written"`
	Recovered uint64 `json:"recovered"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

type walEntry struct {
	Action    Action    `json:"action"`
	Job       Envelope  `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// FileJournal is a JSONL write-ahead log.
type FileJournal struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	closed  bool
	log     *zap.SugaredLogger
	written atomic.Uint64
	recov   atomic.Uint64
	done    atomic.Uint64
	failed  atomic.Uint64
}

// OpenFileJournal opens (or creates) dir/jobs.wal.
func OpenFileJournal(dir string, logger *zap.Logger) (*FileJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}
	path := filepath.Join(dir, "jobs.wal")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	return &FileJournal{path: path, file: file, log: logger.Named("wal").Sugar()}, nil
}

// Record appends one entry. Enqueue and retry records are synced; completion
// records are not, so a crash can at worst replay a finished job.
func (j *FileJournal) Record(action Action, env Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	if action == ActionComplete {
		env = Envelope{ID: env.ID, Type: env.Type, State: env.State}
	}
	data, err := json.Marshal(walEntry{Action: action, Job: env, Timestamp: time.Now().UTC()})
	if err != nil {
		j.failed.Add(1)
		return fmt.Errorf("WAL marshal: %w", err)
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		j.failed.Add(1)
		return fmt.Errorf("WAL write: %w", err)
	}
	if action != ActionComplete {
		if err := j.file.Sync(); err != nil {
			j.failed.Add(1)
			return fmt.Errorf("WAL sync: %w", err)
		}
		j.written.Add(1)
	} else {
		j.done.Add(1)
	}
	return nil
}

// Recover returns the jobs that were enqueued but never completed, in their
// original enqueue order, and compacts the log.
func (j *FileJournal) Recover() ([]Envelope, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open WAL for recovery: %w", err)
	}
	defer file.Close()

	latest := make(map[string]Envelope)
	var order []string
	completed := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var entry walEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			j.log.Warnf("⚠️ WAL parse error (skipping): %v", err)
			continue
		}
		id := entry.Job.ID
		switch entry.Action {
		case ActionEnqueue, ActionRetry:
			if _, seen := latest[id]; !seen {
				order = append(order, id)
			}
			latest[id] = entry.Job
		case ActionComplete:
			completed[id] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("WAL scan error: %w", err)
	}

	var pending []Envelope
	for _, id := range order {
		if !completed[id] {
			pending = append(pending, latest[id])
		}
	}
	j.recov.Add(uint64(len(pending)))
	if len(pending) > 0 {
		j.log.Infof("🔄 recovered %d pending jobs from WAL", len(pending))
	}

	if len(pending) > 0 || len(completed) > 10 {
		if err := j.compact(pending); err != nil {
			j.log.Warnf("⚠️ WAL compaction failed: %v", err)
		}
	}
	return pending, nil
}

// compact rewrites the WAL with only pending entries. Caller holds j.mu.
func (j *FileJournal) compact(pending []Envelope) error {
	tempPath := j.path + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(tempFile)
	for _, env := range pending {
		if err := encoder.Encode(walEntry{Action: ActionEnqueue, Job: env, Timestamp: env.EnqueuedAt}); err != nil {
			tempFile.Close()
			os.Remove(tempPath)
			return err
		}
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return err
	}
	tempFile.Close()

	j.file.Close()
	renameErr := os.Rename(tempPath, j.path)
	j.file, err = os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if renameErr != nil {
		os.Remove(tempPath)
		return renameErr
	}
	if err != nil {
		return err
	}
	j.log.Infof("✓ WAL compacted: kept %d pending entries", len(pending))
	return nil
}

// Metrics returns persistence counters.
func (j *FileJournal) Metrics() JournalMetrics {
	return JournalMetrics{
		Written:   j.written.Load(),
		Recovered: j.recov.Load(),
		Completed: j.done.Load(),
		Failed:    j.failed.Load(),
	}
}

// Close syncs and closes the log.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return err
	}
	j.log.Infof("✓ WAL closed: written=%d completed=%d", j.written.Load(), j.done.Load())
	return j.file.Close()
}
