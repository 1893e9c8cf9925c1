package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const progressInterval = 500 * time.Millisecond

// YTDLP resolves metadata and fetches renditions through the yt-dlp binary.
type YTDLP struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewYTDLP creates a resolver with a per-operation timeout ceiling; a stalled
// fetch is cut off and reported as a fetch failure. timeout <= 0 means 10m.
func NewYTDLP(log *slog.Logger, timeout time.Duration) *YTDLP {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &YTDLP{
		logger:  log.With(slog.String("component", "resolver")),
		timeout: timeout,
	}
}

// ResolveMetadata extracts the single-JSON description of the URL without
// downloading. Extractor failures are classified into the taxonomy.
func (r *YTDLP) ResolveMetadata(ctx context.Context, url string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dl := ytdlp.New().
		DumpSingleJSON().
		SkipDownload().
		NoPlaylist()
	result, err := dl.Run(ctx, url)
	if err != nil {
		r.logger.Warn("metadata resolution failed", slog.String("url", url), slog.Any("error", err))
		return Metadata{}, ClassifyResolution(err)
	}
	meta, err := ParseMetadata([]byte(result.Stdout))
	if err != nil {
		return Metadata{}, err
	}
	r.logger.Info("metadata resolved",
		slog.String("url", url),
		slog.String("title", meta.Title),
		slog.Int("formats", len(meta.Formats)),
	)
	return meta, nil
}

// Fetch downloads the chosen rendition to the job's destination template and
// returns the final local path. Progress ticks are forwarded as downloading
// events; a single finished event follows a successful run.
func (r *YTDLP) Fetch(ctx context.Context, job Job) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dl := ytdlp.New().
		Output(job.DestTemplate).
		NoPlaylist().
		ForceOverwrites().
		RestrictFilenames()
	if job.FormatID != "" {
		dl = dl.Format(job.FormatID)
	}
	dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		if job.Progress == nil {
			return
		}
		job.Progress(progressEvent(update))
	})

	result, err := dl.Run(ctx, job.URL)
	if err != nil {
		r.logger.Warn("fetch failed", slog.String("url", job.URL), slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if job.Progress != nil {
		job.Progress(Event{Phase: PhaseFinished, Percent: 100})
	}

	path := extractedPath(result)
	if path == "" {
		path = globDestination(job.DestTemplate)
	}
	if path == "" {
		return "", fmt.Errorf("%w: downloaded file not found", ErrFetchFailed)
	}
	return path, nil
}

func progressEvent(update ytdlp.ProgressUpdate) Event {
	ev := Event{Phase: PhaseDownloading}
	if update.TotalBytes > 0 {
		ev.Percent = float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
	}
	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started)
		if elapsed.Seconds() > 0 {
			perSecond := float64(update.DownloadedBytes) / elapsed.Seconds()
			ev.Speed = fmt.Sprintf("%.1f MB/s", perSecond/1024/1024)
		}
	}
	if eta := update.ETA(); eta > 0 {
		ev.ETASeconds = int(eta.Seconds())
	}
	return ev
}

func extractedPath(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return ""
	}
	if info[0].Filename == nil {
		return ""
	}
	return *info[0].Filename
}

// globDestination finds the downloaded file when yt-dlp does not report it,
// by replacing the extension placeholder in the output template.
func globDestination(template string) string {
	if !strings.Contains(template, "%(ext)s") {
		return ""
	}
	pattern := strings.ReplaceAll(template, "%(ext)s", "*")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}
