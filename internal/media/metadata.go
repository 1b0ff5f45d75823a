package media

import (
	"context"
	"os"
	"os/exec"
	"strings"
)

// Tags worth carrying from the video container into the MP3. ID3 uses
// the same keys ffmpeg maps automatically.
var preservedTagKeys = []string{
	"title",
	"artist",
	"album",
	"album_artist",
	"date",
	"genre",
	"track",
	"comment",
	"composer",
	"copyright",
}

// copyTags re-reads the source container tags and rewrites the MP3
// with explicit -metadata flags. This catches tags the automatic
// -map_metadata pass drops for some containers.
func (s *Service) copyTags(ctx context.Context, input, output string) error {
	probed, err := s.Probe(ctx, input)
	if err != nil {
		return err
	}
	if len(probed.Tags) == 0 {
		return nil
	}

	// Tag keys vary in case between containers.
	normalized := make(map[string]string, len(probed.Tags))
	for key, value := range probed.Tags {
		normalized[strings.ToLower(key)] = value
	}

	var metaArgs []string
	for _, key := range preservedTagKeys {
		if value, ok := normalized[key]; ok && value != "" {
			metaArgs = append(metaArgs, "-metadata", key+"="+value)
		}
	}
	if len(metaArgs) == 0 {
		return nil
	}

	tmp := output + ".tags.tmp.mp3"
	args := []string{"-y", "-i", output, "-c", "copy"}
	args = append(args, metaArgs...)
	args = append(args, tmp)

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return categorizeError(output, err, string(out))
	}

	return os.Rename(tmp, output)
}
