package capture

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

func isYouTube(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	return host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com"
}

// resolveYouTube asks yt-dlp for a direct media URL. Resolved URLs expire,
// so callers resolve again before every attempt.
func resolveYouTube(ctx context.Context, src string) (string, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--get-url",
		"--format", "best[height<=1080]",
		"--no-playlist",
		src,
	)

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp: %w", err)
	}

	// yt-dlp may print separate video and audio URLs; the first is video.
	first, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return "", fmt.Errorf("yt-dlp returned empty URL")
	}
	return first, nil
}
