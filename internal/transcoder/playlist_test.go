package transcoder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMasterPlaylist_OnlyProducedRenditions(t *testing.T) {
	// 1080p is in the nominal ladder but was not produced.
	produced := []Rendition{Ladder[1], Ladder[2]} // 720p, 480p
	got := MasterPlaylist(produced)

	if !strings.HasPrefix(got, "#EXTM3U\n#EXT-X-VERSION:3\n") {
		t.Fatalf("missing header:\n%s", got)
	}
	if strings.Contains(got, "1080p") {
		t.Errorf("playlist references unproduced 1080p:\n%s", got)
	}
	for _, want := range []string{
		"#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720\n720p/playlist.m3u8\n",
		"#EXT-X-STREAM-INF:BANDWIDTH=1400000,RESOLUTION=854x480\n480p/playlist.m3u8\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing entry %q in:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "#EXT-X-STREAM-INF"); n != 2 {
		t.Errorf("expected exactly 2 stream entries, got %d", n)
	}
}

func TestWriteMasterPlaylist(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMasterPlaylist(dir, []Rendition{Ladder[2]}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "master.m3u8"))
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	if !strings.Contains(string(data), "480p/playlist.m3u8") {
		t.Errorf("unexpected playlist contents:\n%s", data)
	}
}

func TestProducedRenditions(t *testing.T) {
	outDir := t.TempDir()
	for _, name := range []string{"720p", "480p"} {
		if err := os.MkdirAll(filepath.Join(outDir, name), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	// Only 480p actually produced a playlist.
	if err := os.WriteFile(filepath.Join(outDir, "480p", "playlist.m3u8"), []byte("#EXTM3U\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	got := producedRenditions(outDir, []Rendition{Ladder[1], Ladder[2]})
	if len(got) != 1 || got[0].Name != "480p" {
		t.Fatalf("expected [480p], got %v", got)
	}
}
