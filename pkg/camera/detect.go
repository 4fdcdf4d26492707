package camera

import (
	"strings"
)

// detectHeaderRows is the "Model  Port" title and its dashed underline.
const detectHeaderRows = 2

// ParseDetect parses the table printed by "gphoto2 --auto-detect":
//
//	Model                          Port
//	----------------------------------------------------------
//	Canon EOS 700D                 usb:001,005
//
// The last whitespace-separated token of a row is the port; the rest is the
// model.
func ParseDetect(stdout string) []Descriptor {
	lines := strings.Split(strings.ReplaceAll(stdout, "\r\n", "\n"), "\n")
	if len(lines) <= detectHeaderRows {
		return nil
	}

	var devices []Descriptor
	seen := make(map[string]bool)
	for _, line := range lines[detectHeaderRows:] {
		line = strings.TrimSpace(line)
		if line == "" || isSeparator(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		port := fields[len(fields)-1]
		model := strings.Join(fields[:len(fields)-1], " ")

		d := NewDescriptor(model, port)
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		devices = append(devices, d)
	}
	return devices
}

func isSeparator(line string) bool {
	return strings.Trim(line, "-=") == ""
}
