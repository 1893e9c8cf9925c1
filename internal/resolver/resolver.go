package resolver

import (
	"context"
	"errors"
	"strings"
)

// Sentinel failures surfaced to the pipeline. ErrNoMedia and ErrAuthRequired
// are resolution-failure subtypes that produce distinct user guidance; any
// other resolution error is reported generically.
var (
	ErrNoMedia      = errors.New("no playable media found")
	ErrAuthRequired = errors.New("content requires authentication")
	ErrFetchFailed  = errors.New("media fetch failed")
)

// Phase labels a progress event.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseFinished    Phase = "finished"
)

// Event is one structured progress notification emitted during a fetch.
type Event struct {
	Phase      Phase
	Percent    float64
	Speed      string
	ETASeconds int
}

// ProgressFunc receives progress events. Implementations must be fast; the
// resolver calls it inline from its download loop.
type ProgressFunc func(Event)

// Job describes one fetch of a chosen rendition to a local path.
type Job struct {
	URL          string
	FormatID     string
	DestTemplate string
	Progress     ProgressFunc
}

// Resolver is the metadata/extraction and file-fetch engine consumed by the
// pipeline. Both operations may take minutes and honor context cancellation.
type Resolver interface {
	// ResolveMetadata extracts the title, canonical URL, and raw format list
	// for a media URL without downloading anything.
	ResolveMetadata(ctx context.Context, url string) (Metadata, error)
	// Fetch downloads the rendition described by the job and returns the
	// local file path. Progress is reported through job.Progress.
	Fetch(ctx context.Context, job Job) (string, error)
}

// authMarkers and noMediaMarkers classify extractor error text into the
// resolution-failure subtypes. yt-dlp has no stable error codes, so the
// matching is textual, mirroring what its own extractors emit.
var (
	authMarkers = []string{
		"sign in",
		"log in",
		"login required",
		"authentication",
		"private video",
		"members-only",
		"cookies",
	}
	noMediaMarkers = []string{
		"unsupported url",
		"no video",
		"unable to extract",
		"is not a valid url",
		"unable to download webpage",
	}
)

// ClassifyResolution maps a raw resolution error onto the failure taxonomy.
// The original error stays in the chain for logging.
func ClassifyResolution(err error) error {
	if err == nil {
		return nil
	}
	text := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return errors.Join(ErrAuthRequired, err)
		}
	}
	for _, marker := range noMediaMarkers {
		if strings.Contains(text, marker) {
			return errors.Join(ErrNoMedia, err)
		}
	}
	return err
}
