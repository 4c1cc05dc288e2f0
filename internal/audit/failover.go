package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	spoolDir           = "/var/lib/telematics/audit_spool"
	maxSpoolSize int64 = 256 * 1024 * 1024

	spoolMu  sync.Mutex
	replayMu sync.Mutex
)

// ConfigureSpool sets the spool location and size cap. Call once at
// startup before any Record.
func ConfigureSpool(dir string, maxMB int64) {
	if dir != "" {
		spoolDir = dir
	}
	if maxMB > 0 {
		maxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(spoolDir, 0o750)
}

// Spool appends the event to the local JSONL spool. Returns an error
// only when the event is genuinely lost.
func Spool(evt Event) error {
	spoolMu.Lock()
	defer spoolMu.Unlock()

	if spoolSize() >= maxSpoolSize {
		return fmt.Errorf("audit spool at capacity (%d bytes)", maxSpoolSize)
	}

	line, err := json.Marshal(spoolEntry{
		EventID:   evt.EventID.String(),
		Payload:   evt,
		SpooledAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(spoolDir, "audit_spool.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func spoolSize() int64 {
	var size int64
	entries, err := os.ReadDir(spoolDir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !info.IsDir() {
			size += info.Size()
		}
	}
	return size
}

// StartReplayer periodically flushes spooled events back into the store.
func (s *Service) StartReplayer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

// ReplaySpool drains the spool file through Record. The file is renamed
// first so concurrent spooling keeps appending to a fresh one; events
// that still cannot reach the store get re-spooled by Record, so nothing
// is dropped, only deferred.
func (s *Service) ReplaySpool(ctx context.Context) {
	replayMu.Lock()
	defer replayMu.Unlock()

	filename := filepath.Join(spoolDir, "audit_spool.jsonl")
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || (info != nil && info.Size() == 0) {
		return
	}

	replayFile := filepath.Join(spoolDir, fmt.Sprintf("replay_%d.jsonl", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("[ERROR] Audit: rotating spool for replay: %v", err)
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}
	defer f.Close()

	var replayed int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry spoolEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Printf("[WARN] Audit: skipping undecodable spool line: %v", err)
			continue
		}
		if err := s.Record(ctx, entry.Payload); err == nil {
			replayed++
		}
	}

	f.Close()
	os.Remove(replayFile)

	if replayed > 0 {
		log.Printf("Audit: replayed %d spooled events", replayed)
	}
}
