package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/okian/callqa/internal/adapters/artifacts"
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
	"github.com/okian/callqa/internal/domain/transcript"
	"github.com/spf13/cobra"
)

// ErrStageFailed is returned when a command's stage result is not a success.
var ErrStageFailed = errors.New("stage failed")

// processReport is what `process` prints.
type processReport struct {
	Transcription model.TranscriptionResult `json:"transcription"`
	Analysis      *model.AnalysisResult      `json:"analysis,omitempty"`
	Grading       *model.GradingOutcome      `json:"grading,omitempty"`
}

func (c *cli) processCmd() *cobra.Command {
	var (
		outDir    string
		scorecard string
		criteria  []string
	)
	cmd := &cobra.Command{
		Use:   "process <audio>...",
		Short: "Transcribe, analyze and grade one call made of one or more recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cs, err := loadCriteria(scorecard, criteria)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = filepath.Join(c.cfg.DataDir, "runs", uuid.NewString())
			}
			p, err := c.pipeline()
			if err != nil {
				return err
			}

			var rep processReport
			rep.Transcription = p.Transcribe(ctx, args, outDir)
			if !rep.Transcription.OK() {
				_ = printJSON(cmd.OutOrStdout(), rep)
				return fmt.Errorf("%w: %w", ErrStageFailed, rep.Transcription.Err)
			}
			an := p.Analyze(ctx, rep.Transcription.Transcript, outDir)
			rep.Analysis = &an
			if len(cs) > 0 {
				gr := p.Grade(ctx, rep.Transcription.Transcript, cs, outDir)
				rep.Grading = &gr
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default {data_dir}/runs/{uuid})")
	cmd.Flags().StringVar(&scorecard, "scorecard", "", "scorecard file (.csv, .yaml)")
	cmd.Flags().StringArrayVar(&criteria, "criterion", nil, "grading criterion, repeatable")
	return cmd
}

func (c *cli) normalizeCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "normalize <raw-dir>",
		Short: "Rebuild the conversation and speaker timing from downloaded provider documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := transcript.LoadDir(args[0])
			if err != nil {
				return err
			}
			rec, err := transcript.Normalize(docs)
			if err != nil {
				return err
			}
			text := transcript.FormatTranscript(rec)
			if outDir != "" {
				w := artifacts.NewWriter(outDir)
				if _, err := w.Conversation(text); err != nil {
					return err
				}
				if _, err := w.Timing(transcript.Aggregate(rec)); err != nil {
					return err
				}
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write conversation and timing files here")
	return cmd
}

func (c *cli) gradeCmd() *cobra.Command {
	var transcriptPath, scorecard, outDir string
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a transcript against a scorecard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := os.ReadFile(transcriptPath)
			if err != nil {
				return err
			}
			cs, err := grading.LoadFile(scorecard)
			if err != nil {
				return err
			}
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			res := p.Grade(cmd.Context(), string(text), cs, outDir)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("%w: %w", ErrStageFailed, res.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "conversation text file")
	cmd.Flags().StringVar(&scorecard, "scorecard", "", "scorecard file (.csv, .yaml)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write the grading file here")
	_ = cmd.MarkFlagRequired("transcript")
	_ = cmd.MarkFlagRequired("scorecard")
	return cmd
}

func (c *cli) askCmd() *cobra.Command {
	var transcriptPath, outDir string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about a transcript",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(transcriptPath)
			if err != nil {
				return err
			}
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = filepath.Dir(transcriptPath)
			}
			res := p.Ask(cmd.Context(), string(text), strings.Join(args, " "), outDir)
			if !res.OK() {
				return fmt.Errorf("%w: %w", ErrStageFailed, res.Err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
			return err
		},
	}
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "conversation text file")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "answer file directory (default: next to the transcript)")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func loadCriteria(path string, names []string) ([]grading.Criterion, error) {
	if len(names) > 0 {
		return grading.FromNames(names), nil
	}
	if path == "" {
		return nil, nil
	}
	return grading.LoadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
