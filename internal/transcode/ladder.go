package transcode

import "fmt"

type Rung struct {
	Quality      string
	Width        int
	Height       int
	VideoBitrate string
	AudioBitrate string
}

// Ladder is ordered highest first.
var Ladder = []Rung{
	{Quality: "1440p", Width: 2560, Height: 1440, VideoBitrate: "8000k", AudioBitrate: "192k"},
	{Quality: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", AudioBitrate: "192k"},
	{Quality: "720p", Width: 1280, Height: 720, VideoBitrate: "2500k", AudioBitrate: "128k"},
	{Quality: "480p", Width: 854, Height: 480, VideoBitrate: "1000k", AudioBitrate: "128k"},
	{Quality: "360p", Width: 640, Height: 360, VideoBitrate: "500k", AudioBitrate: "96k"},
}

// FallbackMaxHeight caps the ladder when the source could not be probed.
const FallbackMaxHeight = 1080

// SelectRungs returns the rungs whose height does not exceed sourceHeight,
// highest first. A source shorter than the smallest rung yields nothing.
func SelectRungs(sourceHeight int) []Rung {
	out := make([]Rung, 0, len(Ladder))
	for _, r := range Ladder {
		if r.Height <= sourceHeight {
			out = append(out, r)
		}
	}
	return out
}

func FallbackRungs() []Rung {
	return SelectRungs(FallbackMaxHeight)
}

// StorageKey is the deterministic object key for one rendition.
func StorageKey(quality, videoID string) string {
	return fmt.Sprintf("videos/%s/%s.mp4", quality, videoID)
}
