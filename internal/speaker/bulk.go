package speaker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/audio"
)

// DefaultSamplesPerGroup is how many files BulkLoad takes from each group
// directory.
const DefaultSamplesPerGroup = 3

// BulkOptions configures BulkLoad.
type BulkOptions struct {
	// IDPrefix is prepended to every corpus speaker directory name.
	IDPrefix string
	// SamplesPerGroup defaults to DefaultSamplesPerGroup.
	SamplesPerGroup int
	// Reload enrolls speakers that are already in the store again. By
	// default they are skipped so loading the same corpus twice is a no-op.
	Reload bool
	Log    zerolog.Logger
}

// BulkLoad enrolls a corpus laid out as <speaker>/<group>/<audio files>,
// taking up to SamplesPerGroup files per group in name order. Files are read
// as they are processed and everything is committed with a single persist.
func BulkLoad(ctx context.Context, store *Store, corpusDir string, opts BulkOptions) (ImportReport, error) {
	log := opts.Log.With().Str("component", "bulk-load").Logger()
	perGroup := opts.SamplesPerGroup
	if perGroup <= 0 {
		perGroup = DefaultSamplesPerGroup
	}

	speakerDirs, err := os.ReadDir(corpusDir)
	if err != nil {
		return ImportReport{}, fmt.Errorf("read corpus %s: %w", corpusDir, err)
	}

	existing := store.ListSpeakers()
	var batch []Sample
	var skipped int
	for _, sd := range speakerDirs {
		if !sd.IsDir() {
			continue
		}
		id := opts.IDPrefix + sd.Name()
		if _, ok := existing[id]; ok && !opts.Reload {
			skipped++
			continue
		}

		speakerPath := filepath.Join(corpusDir, sd.Name())
		groups, err := os.ReadDir(speakerPath)
		if err != nil {
			log.Warn().Err(err).Str("path", speakerPath).Msg("skipping unreadable speaker directory")
			continue
		}
		for _, gd := range groups {
			if !gd.IsDir() {
				continue
			}
			groupPath := filepath.Join(speakerPath, gd.Name())
			files, err := audioFiles(groupPath, perGroup)
			if err != nil {
				log.Warn().Err(err).Str("path", groupPath).Msg("skipping unreadable group directory")
				continue
			}
			for _, f := range files {
				batch = append(batch, Sample{SpeakerID: id, Filename: f, Path: filepath.Join(groupPath, f)})
			}
		}
	}

	log.Info().Str("corpus", corpusDir).Int("samples", len(batch)).Int("skipped_speakers", skipped).Msg("loading corpus")
	report, err := store.Import(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("import corpus: %w", err)
	}
	log.Info().
		Int("enrolled", report.Enrolled).
		Int("new_speakers", report.NewSpeakers).
		Int("failed", len(report.Failed)).
		Msg("corpus loaded")
	return report, nil
}

// audioFiles lists up to limit audio files in dir, sorted by name.
func audioFiles(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && audio.IsAudioFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}
