package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/marriagesignal/studio/internal/pipeline"
	"github.com/marriagesignal/studio/internal/timeline"
)

// WriteAudioArchive zips every dialogue that has audio, named after its
// text. Files are MP3 when the transcoder works and WAV otherwise; one
// failed transcode switches the rest of the archive to WAV.
func WriteAudioArchive(ctx context.Context, w io.Writer, p *timeline.Project, src AudioSource, ff pipeline.FFmpeg, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mp3 := ff != nil && ff.Available(ctx)

	zw := zip.NewWriter(w)
	names := make(map[string]bool)
	count := 0

	for _, cut := range p.Cuts {
		for _, d := range cut.Dialogues {
			wav, ok := src.Get(d.ID)
			if !ok || len(wav) == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return count, err
			}

			data, ext := wav, ".wav"
			if mp3 {
				encoded, err := ff.ToMP3(ctx, wav)
				switch {
				case err == nil:
					data, ext = encoded, ".mp3"
				case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
					return count, err
				default:
					logger.Warn("mp3 transcode failed, archiving wav", "dialogue_id", d.ID, "error", err)
					mp3 = false
				}
			}

			name := uniqueName(names, SanitizeFilename(d.Text), ext)
			f, err := zw.Create(name)
			if err != nil {
				return count, fmt.Errorf("adding %s: %w", name, err)
			}
			if _, err := f.Write(data); err != nil {
				return count, fmt.Errorf("writing %s: %w", name, err)
			}
			count++
		}
	}

	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("finishing archive: %w", err)
	}
	return count, nil
}

func uniqueName(taken map[string]bool, base, ext string) string {
	name := base + ext
	for n := 1; taken[name]; n++ {
		name = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	taken[name] = true
	return name
}
