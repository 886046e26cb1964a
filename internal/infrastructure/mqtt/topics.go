package mqtt

import "strings"

// DefaultTopicPrefix roots every gateway topic when none is configured.
const DefaultTopicPrefix = "httpgateway"

// Topics builds the gateway's topic hierarchy under a prefix:
//
//	<prefix>/host/snapshot            retained host state (host → gateway)
//	<prefix>/host/log/<level>         host log line (host → gateway)
//	<prefix>/host/command/code        code request for an identity (host → gateway)
//	<prefix>/host/message/<user_id>   private reply to a user (gateway → host)
//	<prefix>/host/console             console announcement (gateway → host)
//	<prefix>/gateway/status           retained online/offline + LWT
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// HostSnapshot returns the retained host state topic.
func (t Topics) HostSnapshot() string {
	return t.prefix() + "/host/snapshot"
}

// HostLog returns the topic for log lines of one level.
func (t Topics) HostLog(level string) string {
	return t.prefix() + "/host/log/" + level
}

// AllHostLogs returns a wildcard matching every HostLog topic.
func (t Topics) AllHostLogs() string {
	return t.prefix() + "/host/log/+"
}

// HostCodeCommand returns the topic the host uses to request a code.
func (t Topics) HostCodeCommand() string {
	return t.prefix() + "/host/command/code"
}

// IsTopicLevel reports whether s can stand as a single topic level: it is
// non-empty and holds no separator, wildcard or NUL character.
func IsTopicLevel(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}

// HostMessage returns the topic for a private message to one user. userID
// must satisfy IsTopicLevel.
func (t Topics) HostMessage(userID string) string {
	return t.prefix() + "/host/message/" + userID
}

// HostConsole returns the topic for console announcements.
func (t Topics) HostConsole() string {
	return t.prefix() + "/host/console"
}

// GatewayStatus returns the gateway's retained status topic.
func (t Topics) GatewayStatus() string {
	return t.prefix() + "/gateway/status"
}

// LogLevelFromTopic extracts the level segment from a HostLog topic.
// ok is false when topic is not a HostLog topic under this prefix.
func (t Topics) LogLevelFromTopic(topic string) (level string, ok bool) {
	level, ok = strings.CutPrefix(topic, t.prefix()+"/host/log/")
	if !ok || level == "" || strings.Contains(level, "/") {
		return "", false
	}
	return level, true
}
