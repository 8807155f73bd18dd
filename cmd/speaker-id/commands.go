package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/snarg/speaker-id/internal/features"
	"github.com/snarg/speaker-id/internal/speaker"
)

var importOpts struct {
	prefix   string
	perGroup int
	reload   bool
}

var importCmd = &cobra.Command{
	Use:   "import <corpus-dir>",
	Short: "Bulk enroll a corpus laid out as <speaker>/<group>/<audio>",
	Long: `Import enrolls up to --per-group audio files from every group directory
of every speaker in the corpus, committing the whole batch with one write.
Speakers already in the store are skipped unless --reload is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var enrollName string

var enrollCmd = &cobra.Command{
	Use:   "enroll <speaker-id> <audio-file>",
	Short: "Add one voice sample to a speaker, creating it if needed",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnroll,
}

var identifyCmd = &cobra.Command{
	Use:   "identify <audio-file>",
	Short: "Identify the enrolled speaker closest to a recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentify,
}

var compareCmd = &cobra.Command{
	Use:   "compare <audio-a> <audio-b>",
	Short: "Score whether two recordings come from the same speaker",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled speakers",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	importCmd.Flags().StringVar(&importOpts.prefix, "prefix", "", "prefix for corpus speaker ids (default CORPUS_ID_PREFIX)")
	importCmd.Flags().IntVar(&importOpts.perGroup, "per-group", 0, "samples per group directory (default CORPUS_SAMPLES_PER_GROUP)")
	importCmd.Flags().BoolVar(&importOpts.reload, "reload", false, "enroll speakers that are already in the store again")
	enrollCmd.Flags().StringVar(&enrollName, "name", "", "display name for the speaker")

	rootCmd.AddCommand(importCmd, enrollCmd, identifyCmd, compareCmd, listCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.close()

	opts := speaker.BulkOptions{
		IDPrefix:        a.cfg.CorpusIDPrefix,
		SamplesPerGroup: a.cfg.CorpusSamplesPerGroup,
		Reload:          importOpts.reload,
		Log:             a.log,
	}
	if cmd.Flags().Changed("prefix") {
		opts.IDPrefix = importOpts.prefix
	}
	if importOpts.perGroup > 0 {
		opts.SamplesPerGroup = importOpts.perGroup
	}

	report, err := speaker.BulkLoad(cmd.Context(), a.store, args[0], opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "enrolled %d samples (%d new speakers), %d failed\n",
		report.Enrolled, report.NewSpeakers, len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  %s/%s: %v\n", f.SpeakerID, f.Filename, f.Err)
	}
	return nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	a, err := setup(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.close()

	info, err := a.store.Enroll(cmd.Context(), args[0], enrollName, filepath.Base(args[1]), data)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), info)
}

// identifyOutput mirrors the HTTP identify response.
type identifyOutput struct {
	speaker.Identification
	NoMatch bool   `json:"no_match,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	a, err := setup(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.engine.Identify(cmd.Context(), data)
	if reason := features.ReasonOf(err); reason != 0 {
		if werr := writeJSON(cmd.OutOrStdout(), identifyOutput{NoMatch: true, Reason: reason.String()}); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), identifyOutput{Identification: res, NoMatch: !res.Matched()})
}

func runCompare(cmd *cobra.Command, args []string) error {
	da, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	db, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	a, err := setup(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.engine.Compare(cmd.Context(), da, db)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.close()

	speakers := a.store.Speakers()
	sort.Slice(speakers, func(i, j int) bool { return speakers[i].ID < speakers[j].ID })

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSAMPLES")
	for _, s := range speakers {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.ID, s.Name, s.Samples)
	}
	return tw.Flush()
}
