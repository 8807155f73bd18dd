package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OrphanPruner removes local sample files that no speaker references: leftovers
// of enrollments that failed after the sample was written, or of deletes
// whose directory removal was interrupted. Files younger than the grace
// period are left alone so in-flight enrollments are never touched.
type OrphanPruner struct {
	dir      string
	index    SampleIndex
	grace    time.Duration
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewOrphanPruner creates a pruner for dir checked against index.
func NewOrphanPruner(dir string, index SampleIndex, log zerolog.Logger) *OrphanPruner {
	return &OrphanPruner{
		dir:      dir,
		index:    index,
		grace:    1 * time.Hour,
		interval: 1 * time.Hour,
		log:      log.With().Str("component", "orphan-pruner").Logger(),
		stop:     make(chan struct{}),
	}
}

func (p *OrphanPruner) Start() {
	go p.loop()
}

func (p *OrphanPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *OrphanPruner) loop() {
	// Run once on startup to clear leftovers from a crash
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

// prune removes unreferenced files older than the grace period and returns
// how many were removed.
func (p *OrphanPruner) prune() int {
	if p.index == nil {
		return 0
	}
	referenced := map[string]bool{}
	for id, files := range p.index.SampleFiles() {
		for _, f := range files {
			referenced[id+"/"+f] = true
		}
	}

	cutoff := time.Now().Add(-p.grace)
	var prunedCount int
	var prunedBytes int64

	speakerDirs, _ := os.ReadDir(p.dir)
	for _, sd := range speakerDirs {
		if !sd.IsDir() {
			continue
		}
		speakerPath := filepath.Join(p.dir, sd.Name())
		files, _ := os.ReadDir(speakerPath)
		for _, f := range files {
			if f.IsDir() || referenced[sd.Name()+"/"+f.Name()] {
				continue
			}
			info, err := f.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(speakerPath, f.Name())); err == nil {
				prunedCount++
				prunedBytes += info.Size()
			}
		}
		remaining, _ := os.ReadDir(speakerPath)
		if len(remaining) == 0 {
			os.Remove(speakerPath)
		}
	}

	if prunedCount > 0 {
		p.log.Info().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Msg("orphaned samples removed")
	}
	return prunedCount
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
