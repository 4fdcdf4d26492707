package camera

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// All pattern matching on gphoto2 output lives in this file.

// ClassifyDetect returns ErrNoDevices when either stream reports that no
// camera is attached, nil otherwise.
func ClassifyDetect(stdout, stderr string) error {
	if mentionsNoCamera(stdout) || mentionsNoCamera(stderr) {
		return faults.ErrNoDevices
	}
	return nil
}

// ClassifyCapture maps a failed capture's output to a sentinel.
func ClassifyCapture(output string) error {
	s := strings.ToLower(output)
	switch {
	case strings.Contains(s, "busy"), strings.Contains(s, "locked"):
		return faults.ErrDeviceBusy
	case mentionsNoCamera(s):
		return faults.ErrDeviceGone
	default:
		return faults.ErrCaptureFailed
	}
}

func mentionsNoCamera(s string) bool {
	return strings.Contains(strings.ToLower(s), "no camera")
}

var savingFile = regexp.MustCompile(`(?m)^Saving file as (.+?)\s*$`)

// savedFilename extracts the downloaded file name from capture stdout. When
// several files are saved (RAW+JPEG) the JPEG is preferred.
func savedFilename(stdout string) string {
	matches := savingFile.FindAllStringSubmatch(stdout, -1)
	if len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		if isJPEG(m[1]) {
			return m[1]
		}
	}
	return matches[len(matches)-1][1]
}

func isJPEG(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".jpeg"
}
