package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marriagesignal/studio/internal/document"
	"github.com/marriagesignal/studio/internal/export"
	"github.com/marriagesignal/studio/internal/logging"
	"github.com/marriagesignal/studio/internal/pipeline"
	"github.com/marriagesignal/studio/internal/timeline"
)

var (
	timingDryRun bool

	exportFormat    string
	exportOutput    string
	exportFrameRate float64
	exportFFmpeg    string

	migrateOutput string
)

var timingCmd = &cobra.Command{
	Use:   "timing <file>",
	Short: "Auto-time every cut of a project document and write it back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := loadDocument(args[0])
		if err != nil {
			return err
		}
		p := res.Project

		timeline.AutoTimeAll(p)
		stale := timeline.RecalculateAll(p)

		out := cmd.OutOrStdout()
		start := 0.0
		for i, c := range p.Cuts {
			mark := ""
			if c.Stale {
				mark = "  (missing audio durations, kept)"
			}
			fmt.Fprintf(out, "cut %3d  %7.1fs  +%5.1fs  %d dialogues%s\n", i+1, start, c.Duration, len(c.Dialogues), mark)
			start += c.Duration
		}
		fmt.Fprintf(out, "total %.1fs over %d cuts", timeline.TotalDuration(p), len(p.Cuts))
		if len(stale) > 0 {
			fmt.Fprintf(out, ", %d stale", len(stale))
		}
		fmt.Fprintln(out)

		if timingDryRun {
			return nil
		}
		return writeDocument(args[0], p, res.Audio)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Render a project document as an EDL, WebVTT subtitles or a dialogue audio zip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(exportFormat)
		if !export.Formats[format] {
			return fmt.Errorf("unknown format %q: want edl, vtt or audio", exportFormat)
		}
		if format == export.FormatAudio && exportOutput == "" {
			return fmt.Errorf("audio export needs --output")
		}

		res, err := loadDocument(args[0])
		if err != nil {
			return err
		}
		p := res.Project
		timeline.RecalculateAll(p)

		var w io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("creating %s: %w", exportOutput, err)
			}
			defer f.Close()
			w = f
		}

		var count int
		switch format {
		case export.FormatEDL:
			var edl string
			edl, count = export.GenerateEDL(p, p.Title, exportFrameRate)
			_, err = io.WriteString(w, edl)
		case export.FormatVTT:
			var vtt string
			vtt, count = export.GenerateVTT(p)
			_, err = io.WriteString(w, vtt)
		case export.FormatAudio:
			logger := logging.NewLoggerTo(os.Stderr, "warn")
			ff := pipeline.NewExecFFmpeg(pipeline.Config{Path: exportFFmpeg, Logger: logger})
			count, err = export.WriteAudioArchive(context.Background(), w, p, res.Audio, ff, logger)
		}
		if err != nil {
			return fmt.Errorf("writing %s export: %w", format, err)
		}
		if exportOutput != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d items to %s\n", count, exportOutput)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <file>",
	Short: "Upgrade a project document to the current version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := loadDocument(args[0])
		if err != nil {
			return err
		}
		target := args[0]
		if migrateOutput != "" {
			target = migrateOutput
		}
		if err := writeDocument(target, res.Project, res.Audio); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: version %g -> %g\n", filepath.Base(target), res.StoredVersion, document.CurrentVersion)
		return nil
	},
}

func init() {
	timingCmd.Flags().BoolVar(&timingDryRun, "dry-run", false, "print the timing without writing the file")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", export.FormatEDL, "edl, vtt or audio")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().Float64Var(&exportFrameRate, "fps", 30, "EDL frame rate")
	exportCmd.Flags().StringVar(&exportFFmpeg, "ffmpeg", "", "ffmpeg binary for MP3 audio")

	migrateCmd.Flags().StringVarP(&migrateOutput, "output", "o", "", "write the upgraded document here instead of in place")
}

func loadDocument(path string) (*document.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	res, err := document.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return res, nil
}

// writeDocument replaces path atomically.
func writeDocument(path string, p *timeline.Project, src document.AudioSource) error {
	data, err := document.Marshal(p, src)
	if err != nil {
		return fmt.Errorf("encoding project: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".studio-*.json")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
