package renditions

import "fmt"

// TargetHeights is the fixed, descending set of height classes offered to the
// user. Each playable format is bucketed to its nearest class; classes that
// end up with no candidate are omitted from the selection.
var TargetHeights = []int{720, 480, 360, 240}

// Format is one raw format descriptor as reported by the media resolver.
type Format struct {
	ID         string
	VideoCodec string
	AudioCodec string
	Height     int
	SizeBytes  int64
}

// Rendition is one selectable download variant derived from the raw formats.
type Rendition struct {
	Label     string
	FormatID  string
	Height    int
	SizeBytes int64
}

// playable reports whether the format carries both a video and an audio
// stream and has a known height. yt-dlp reports absent codecs as "none".
func playable(f Format) bool {
	if f.VideoCodec == "" || f.VideoCodec == "none" {
		return false
	}
	if f.AudioCodec == "" || f.AudioCodec == "none" {
		return false
	}
	return f.Height > 0
}

// Select picks at most one rendition per target height class. Every playable
// format is assigned to the class nearest its height; within a class the
// candidate closest to the target wins, ties broken by larger size estimate,
// then first-seen order. Classes without candidates are skipped, never an
// error. Output order follows TargetHeights, not numeric rendition height.
func Select(formats []Format) []Rendition {
	byClass := make(map[int][]Format, len(TargetHeights))
	for _, f := range formats {
		if !playable(f) {
			continue
		}
		class := nearestClass(f.Height)
		byClass[class] = append(byClass[class], f)
	}

	out := make([]Rendition, 0, len(byClass))
	for _, target := range TargetHeights {
		candidates := byClass[target]
		if len(candidates) == 0 {
			continue
		}
		best := pick(candidates, target)
		out = append(out, Rendition{
			Label:     Label(target, best.SizeBytes),
			FormatID:  best.ID,
			Height:    best.Height,
			SizeBytes: best.SizeBytes,
		})
	}
	return out
}

// nearestClass maps a pixel height to the closest target class, preferring
// the higher class when exactly between two.
func nearestClass(height int) int {
	best := TargetHeights[0]
	bestDist := distance(height, best)
	for _, target := range TargetHeights[1:] {
		if d := distance(height, target); d < bestDist {
			best, bestDist = target, d
		}
	}
	return best
}

// pick selects the winning candidate for one class: minimal distance to the
// target, then larger size estimate among equally close candidates, then
// greater height, then first-seen order.
func pick(candidates []Format, target int) Format {
	best := candidates[0]
	bestDist := distance(best.Height, target)
	for _, f := range candidates[1:] {
		dist := distance(f.Height, target)
		switch {
		case dist < bestDist:
			best, bestDist = f, dist
		case dist == bestDist && f.SizeBytes > best.SizeBytes:
			best = f
		case dist == bestDist && f.SizeBytes == best.SizeBytes && f.Height > best.Height:
			best = f
		}
	}
	return best
}

func distance(height, target int) int {
	if height > target {
		return height - target
	}
	return target - height
}

// Label renders the user-facing button text for a target class, appending a
// size estimate in MB to one decimal place when known.
func Label(targetHeight int, sizeBytes int64) string {
	if sizeBytes > 0 {
		return fmt.Sprintf("%dp (%.1f MB)", targetHeight, float64(sizeBytes)/(1024*1024))
	}
	return fmt.Sprintf("%dp", targetHeight)
}
