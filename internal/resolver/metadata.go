package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clipfetch/clipfetch/internal/renditions"
)

// Metadata is the resolved description of a media URL: enough to present
// rendition choices and to drive a later fetch. It is recomputed on every
// request, never cached.
type Metadata struct {
	Title      string
	WebpageURL string
	Duration   float64
	IsLive     bool
	Formats    []renditions.Format
}

// IsVideo reports whether the asset has playable video content. Assets with
// no duration that are not live (static images, unsupported pages) take the
// direct-delivery path instead of a rendition choice.
func (m Metadata) IsVideo() bool {
	return m.Duration > 0 || m.IsLive
}

type rawInfo struct {
	Title      string      `json:"title"`
	WebpageURL string      `json:"webpage_url"`
	Duration   float64     `json:"duration"`
	IsLive     bool        `json:"is_live"`
	Formats    []rawFormat `json:"formats"`
}

type rawFormat struct {
	FormatID       string  `json:"format_id"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         float64 `json:"height"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

// ParseMetadata decodes yt-dlp --dump-single-json output. The exact filesize
// wins over the approximation when both are present.
func ParseMetadata(data []byte) (Metadata, error) {
	var info rawInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return Metadata{}, fmt.Errorf("decode media info: %w", err)
	}
	meta := Metadata{
		Title:      strings.TrimSpace(info.Title),
		WebpageURL: strings.TrimSpace(info.WebpageURL),
		Duration:   info.Duration,
		IsLive:     info.IsLive,
	}
	meta.Formats = make([]renditions.Format, 0, len(info.Formats))
	for _, f := range info.Formats {
		size := int64(f.Filesize)
		if size <= 0 {
			size = int64(f.FilesizeApprox)
		}
		meta.Formats = append(meta.Formats, renditions.Format{
			ID:         f.FormatID,
			VideoCodec: f.VCodec,
			AudioCodec: f.ACodec,
			Height:     int(f.Height),
			SizeBytes:  size,
		})
	}
	return meta, nil
}
