package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/clipfetch/clipfetch/internal/gateway"
	"github.com/clipfetch/clipfetch/internal/resolver"
	"github.com/clipfetch/clipfetch/internal/session"
)

// Request describes one download-and-deliver job. An empty FormatID lets the
// resolver pick its default rendition, used for direct delivery of non-video
// media.
type Request struct {
	UserID   int64
	ChatID   int64
	URL      string
	FormatID string
	Title    string
	Kind     gateway.FileKind
}

// Orchestrator runs the download half of the pipeline: fetch with throttled
// progress edits, upload, and unconditional temp-file cleanup. Temp files are
// named per job, so concurrent downloads for different chats never collide.
type Orchestrator struct {
	logger      *slog.Logger
	gw          Messenger
	res         resolver.Resolver
	sessions    *session.Store
	downloadDir string
}

func NewOrchestrator(log *slog.Logger, gw Messenger, res resolver.Resolver, sessions *session.Store, downloadDir string) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		logger:      log.With(slog.String("component", "orchestrator")),
		gw:          gw,
		res:         res,
		sessions:    sessions,
		downloadDir: downloadDir,
	}
}

// Run executes the request to a terminal outcome. The session is cleared and
// the temp files are removed on every exit path.
func (o *Orchestrator) Run(ctx context.Context, req Request) {
	defer o.sessions.Clear(req.UserID)

	jobID := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	template := filepath.Join(o.downloadDir, fmt.Sprintf("%d_%s.%%(ext)s", req.ChatID, jobID))
	defer o.removeArtifacts(template)

	progressID, err := o.gw.SendText(ctx, req.ChatID, "Downloading...")
	if err != nil {
		o.logger.Error("progress message failed", slog.Any("error", err))
		return
	}

	path, err := o.res.Fetch(ctx, resolver.Job{
		URL:          req.URL,
		FormatID:     req.FormatID,
		DestTemplate: template,
		Progress:     o.progressReporter(ctx, req, progressID),
	})
	if err != nil {
		o.logger.Warn("fetch failed",
			slog.Int64("user_id", req.UserID), slog.String("url", req.URL), slog.Any("error", err))
		o.editTerminal(ctx, req.ChatID, progressID, fetchFailureMessage(err))
		return
	}

	if err := o.gw.SendFile(ctx, req.ChatID, path, req.Kind, req.Title); err != nil {
		o.logger.Error("upload failed",
			slog.Int64("user_id", req.UserID), slog.String("path", path), slog.Any("error", err))
		o.editTerminal(ctx, req.ChatID, progressID, msgUploadFailed)
		return
	}

	if err := o.gw.DeleteMessage(ctx, req.ChatID, progressID); err != nil {
		o.logger.Warn("delete progress failed", slog.Any("error", err))
	}
	o.logger.Info("delivered",
		slog.Int64("user_id", req.UserID), slog.String("url", req.URL), slog.String("format", req.FormatID))
}

// progressReporter edits the progress message in place, suppressing edits
// while the rendered ETA token is unchanged so Telegram's edit rate limit is
// never the pacing factor.
func (o *Orchestrator) progressReporter(ctx context.Context, req Request, progressID int) resolver.ProgressFunc {
	return func(ev resolver.Event) {
		if ev.Phase != resolver.PhaseDownloading {
			return
		}
		token := fmt.Sprintf("eta:%d", ev.ETASeconds)
		changed, err := o.sessions.MarkProgress(req.UserID, token)
		if err != nil || !changed {
			return
		}
		text := renderProgress(ev)
		if err := o.gw.EditText(ctx, req.ChatID, progressID, text); err != nil {
			if gateway.IsTooManyRequests(err) {
				o.logger.Warn("progress edit rate limited", slog.Int64("chat_id", req.ChatID))
				return
			}
			o.logger.Warn("progress edit failed", slog.Any("error", err))
		}
	}
}

func renderProgress(ev resolver.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Downloading... %.0f%%", ev.Percent)
	if ev.Speed != "" {
		fmt.Fprintf(&b, " | %s", ev.Speed)
	}
	if ev.ETASeconds > 0 {
		fmt.Fprintf(&b, " | ETA %ds", ev.ETASeconds)
	}
	return b.String()
}

// removeArtifacts deletes every file matching the job's output template,
// including partial files left behind by a failed fetch.
func (o *Orchestrator) removeArtifacts(template string) {
	pattern := strings.ReplaceAll(template, "%(ext)s", "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		o.logger.Warn("artifact glob failed", slog.String("pattern", pattern), slog.Any("error", err))
		return
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("artifact removal failed", slog.String("path", match), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) editTerminal(ctx context.Context, chatID int64, messageID int, text string) {
	if err := o.gw.EditText(ctx, chatID, messageID, text); err != nil {
		o.logger.Error("terminal edit failed", slog.Any("error", err))
	}
}

// fetchFailureMessage maps a fetch error to its user-facing text. Extractor
// failures during the download keep the resolution taxonomy.
func fetchFailureMessage(err error) string {
	err = resolver.ClassifyResolution(err)
	switch {
	case errors.Is(err, resolver.ErrNoMedia):
		return msgNoMedia
	case errors.Is(err, resolver.ErrAuthRequired):
		return msgAuthRequired
	default:
		return msgFetchFailed
	}
}
