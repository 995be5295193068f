package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wailsapp/mimetype"

	"mailsized/domain"
)

// DefaultContentType is used when the file's type cannot be sniffed.
const DefaultContentType = "video/mp4"

// FFProbe reads container duration with ffprobe.
type FFProbe struct {
	Bin string
}

func NewFFProbeFromEnv() FFProbe {
	bin := strings.TrimSpace(os.Getenv("FFPROBE_BIN"))
	if bin == "" {
		bin = "ffprobe"
	}
	return FFProbe{Bin: bin}
}

func (p FFProbe) Duration(ctx context.Context, path string) (float64, error) {
	bin := p.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return 0, fmt.Errorf("ffprobe: %w: %s", err, msg)
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseDuration(stdout.String())
}

func parseDuration(out string) (float64, error) {
	raw := strings.TrimSpace(out)
	if raw == "" || raw == "N/A" {
		return 0, errors.New("duration unavailable")
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if d < 0 || d != d {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// ContentType sniffs the file's MIME type, falling back to video/mp4.
func ContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt == nil {
		return DefaultContentType
	}
	ct := mt.String()
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ct == "" || ct == "application/octet-stream" || ct == "text/plain" {
		return DefaultContentType
	}
	return ct
}

// Stat builds a LocalFile for path.
func Stat(path string) (domain.LocalFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return domain.LocalFile{}, err
	}
	if fi.IsDir() {
		return domain.LocalFile{}, fmt.Errorf("%s is a directory", path)
	}
	return domain.LocalFile{Path: path, Name: filepath.Base(path), Size: fi.Size()}, nil
}
