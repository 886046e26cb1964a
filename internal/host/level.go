package host

import (
	"log/slog"
	"strings"
)

// Host log level names, as sent in the "type" field of broadcast messages.
const (
	LevelVerboseDebug = "VerboseDebug"
	LevelDebug        = "Debug"
	LevelNotification = "Notification"
	LevelChat         = "Chat"
	LevelEvent        = "Event"
	LevelStoryEvent   = "StoryEvent"
	LevelBuild        = "Build"
	LevelAudit        = "Audit"
	LevelWarning      = "Warning"
	LevelError        = "Error"
	LevelFatal        = "Fatal"
)

const (
	rankVerboseDebug = iota
	rankDebug
	rankNotification
	rankWarning
	rankError
	rankFatal
)

var levels = map[string]struct {
	name string
	rank int
}{
	"verbosedebug": {LevelVerboseDebug, rankVerboseDebug},
	"debug":        {LevelDebug, rankDebug},
	"notification": {LevelNotification, rankNotification},
	"chat":         {LevelChat, rankNotification},
	"event":        {LevelEvent, rankNotification},
	"storyevent":   {LevelStoryEvent, rankNotification},
	"build":        {LevelBuild, rankNotification},
	"audit":        {LevelAudit, rankNotification},
	"warning":      {LevelWarning, rankWarning},
	"error":        {LevelError, rankError},
	"fatal":        {LevelFatal, rankFatal},
}

// Rank orders levels by severity. Names are matched case-insensitively;
// unknown names rank with Notification.
func Rank(level string) int {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l.rank
	}
	return rankNotification
}

// Canonical returns the canonical spelling of a known level name.
func Canonical(level string) (string, bool) {
	l, ok := levels[strings.ToLower(level)]
	return l.name, ok
}

// ParseTagged splits a "[Level] message" line. Lines without a known level
// tag are returned whole with the fallback level.
func ParseTagged(line, fallback string) (level, message string) {
	rest, ok := strings.CutPrefix(line, "[")
	if !ok {
		return fallback, line
	}
	tag, msg, ok := strings.Cut(rest, "]")
	if !ok {
		return fallback, line
	}
	name, known := Canonical(strings.TrimSpace(tag))
	if !known {
		return fallback, line
	}
	return name, strings.TrimPrefix(msg, " ")
}

// FromSlog maps a gateway log level to a host level name.
func FromSlog(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarning
	case level >= slog.LevelInfo:
		return LevelNotification
	default:
		return LevelDebug
	}
}
