package filestore

// Every mutation of the file store is appended to the journal before the
// data file is replaced. Journal files are rotated per day and when they
// grow past the configured size.

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// JournalEntry represents a single entry in the journal.
type JournalEntry struct {
	Timestamp time.Time
	Command   string
	Bucket    string
	Key       string
}

func (e JournalEntry) String() string {
	return fmt.Sprintf("%s | %s | %s | %s", e.Timestamp.Format(time.RFC3339Nano), e.Command, e.Bucket, e.Key)
}

// Journal is an append-only operation log split into dated files.
type Journal struct {
	mu                 sync.Mutex
	file               *os.File
	baseFilePath       string // base path for journal files, without date
	currentDate        time.Time
	currentPart        int
	maxJournalFileSize int64
	currentSize        int64
	retentionDays      int
	now                func() time.Time
}

var datePattern = regexp.MustCompile(`_\d{4}-\d{2}-\d{2}(\.\d+)?$`)

// NewJournal opens today's journal file next to journalFilePath.
// maxSize <= 0 disables size rotation; retentionDays <= 0 keeps every file.
func NewJournal(journalFilePath string, maxSize int64, retentionDays int) (*Journal, error) {
	journal := &Journal{
		baseFilePath:       getBaseFilePath(journalFilePath),
		maxJournalFileSize: maxSize,
		retentionDays:      retentionDays,
		now:                time.Now,
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if err := journal.ensureCorrectFileOpen(); err != nil {
		return nil, err
	}
	return journal, nil
}

// getBaseFilePath strips the extension and any date suffix.
func getBaseFilePath(journalFilePath string) string {
	dir := filepath.Dir(journalFilePath)
	base := filepath.Base(journalFilePath)
	baseName := strings.TrimSuffix(base, filepath.Ext(base))
	baseName = datePattern.ReplaceAllString(baseName, "")
	return filepath.Join(dir, baseName)
}

func (j *Journal) fileName(date time.Time, part int) string {
	name := fmt.Sprintf("%s_%s", j.baseFilePath, date.Format("2006-01-02"))
	if part > 0 {
		name = fmt.Sprintf("%s.%d", name, part)
	}
	return name + ".journal"
}

// ensureCorrectFileOpen switches files when the day changes or the current
// file is full. Callers hold j.mu.
func (j *Journal) ensureCorrectFileOpen() error {
	today := j.now().UTC().Truncate(24 * time.Hour)
	full := j.maxJournalFileSize > 0 && j.currentSize >= j.maxJournalFileSize

	if j.file != nil && j.currentDate.Equal(today) && !full {
		return nil
	}

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close previous journal file: %w", err)
		}
		j.file = nil
	}

	switch {
	case !j.currentDate.Equal(today):
		j.currentDate = today
		j.currentPart = 0
	case full:
		j.currentPart++
	}

	fileName := j.fileName(today, j.currentPart)
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal file %s: %w", fileName, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat journal file %s: %w", fileName, err)
	}

	j.file = file
	j.currentSize = info.Size()
	return nil
}

// AddEntry appends one operation to the journal.
func (j *Journal) AddEntry(command, bucket, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.ensureCorrectFileOpen(); err != nil {
		return err
	}

	entry := JournalEntry{
		Timestamp: j.now().UTC(),
		Command:   command,
		Bucket:    bucket,
		Key:       key,
	}
	line := entry.String() + "\n"
	if _, err := j.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write to journal file: %w", err)
	}
	j.currentSize += int64(len(line))
	return nil
}

// Files lists the journal files on disk, oldest first.
func (j *Journal) Files() ([]string, error) {
	matches, err := filepath.Glob(j.baseFilePath + "_*.journal")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// CleanupOldJournals removes journal files dated before the retention window.
func (j *Journal) CleanupOldJournals() (int, error) {
	if j.retentionDays <= 0 {
		return 0, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -j.retentionDays)
	files, err := j.Files()
	if err != nil {
		return 0, err
	}

	removed := 0
	prefix := filepath.Base(j.baseFilePath) + "_"
	for _, f := range files {
		stamp := strings.TrimPrefix(filepath.Base(f), prefix)
		if len(stamp) < len("2006-01-02") {
			continue
		}
		date, err := time.Parse("2006-01-02", stamp[:len("2006-01-02")])
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove journal file %s: %w", f, err)
		}
		removed++
	}
	return removed, nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		j.file = nil
	}
	return nil
}
