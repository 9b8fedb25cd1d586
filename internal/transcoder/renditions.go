package transcoder

import "fmt"

// Rendition is one bitrate-resolution target of the HLS ladder.
type Rendition struct {
	Name    string
	Width   int
	Height  int
	Bitrate int // kbps
}

// Ladder is the fixed rendition set, highest first.
var Ladder = []Rendition{
	{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 5000},
	{Name: "720p", Width: 1280, Height: 720, Bitrate: 2800},
	{Name: "480p", Width: 854, Height: 480, Bitrate: 1400},
}

// FilterLadder keeps the renditions whose height fits the source. An empty
// result means the source is too low-resolution for any rendition.
func FilterLadder(sourceHeight int) []Rendition {
	var out []Rendition
	for _, r := range Ladder {
		if r.Height <= sourceHeight {
			out = append(out, r)
		}
	}
	return out
}

// Resolution returns the WxH string used in playlist attributes.
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Bandwidth returns the playlist BANDWIDTH attribute in bits per second.
func (r Rendition) Bandwidth() int {
	return r.Bitrate * 1000
}
