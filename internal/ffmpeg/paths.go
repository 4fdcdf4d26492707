package ffmpeg

import "strings"

// SearchPaths lists conventional install directories per GOOS, probed after
// the shell lookup comes up empty.
var SearchPaths = map[string][]string{
	"darwin": {
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/opt/local/bin",
		"/usr/bin",
	},
	"linux": {
		"/usr/bin",
		"/usr/local/bin",
		"/snap/bin",
		"/opt/ffmpeg/bin",
		"/var/lib/flatpak/exports/bin",
	},
	"windows": {
		`C:\ffmpeg\bin`,
		`C:\Program Files\ffmpeg\bin`,
		`C:\Program Files (x86)\ffmpeg\bin`,
		`C:\ProgramData\chocolatey\bin`,
		`C:\tools\ffmpeg\bin`,
	},
}

// lookupCommands is the shell command used to ask the OS where a binary
// lives, per GOOS. Anything not listed uses "which".
var lookupCommands = map[string]string{
	"windows": "where",
}

func lookupCommand(goos string) string {
	if cmd, ok := lookupCommands[goos]; ok {
		return cmd
	}
	return "which"
}

func executableName(goos, name string) string {
	if goos == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}
