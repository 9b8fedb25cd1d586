package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MasterPlaylist renders the top-level manifest for the renditions that were
// actually produced, in ladder order.
func MasterPlaylist(produced []Rendition) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range produced {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", r.Bandwidth(), r.Resolution())
		fmt.Fprintf(&b, "%s/playlist.m3u8\n", r.Name)
	}
	return b.String()
}

// WriteMasterPlaylist writes master.m3u8 into dir.
func WriteMasterPlaylist(dir string, produced []Rendition) error {
	return os.WriteFile(filepath.Join(dir, "master.m3u8"), []byte(MasterPlaylist(produced)), 0o640)
}
