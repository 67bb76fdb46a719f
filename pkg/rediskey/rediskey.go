package rediskey

import (
	"fmt"
	"strings"
)

// Key prefixes shared by every process talking to the same redis.
const (
	ReadModelPrefix = "readmodel"
	ChangesPrefix   = "changes"
	SequencePrefix  = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildReadModelKey returns "readmodel:{kind}:{userID}"
func BuildReadModelKey(kind, userID string) string {
	return NamespaceKey(ReadModelPrefix, kind+":"+userID)
}

// BuildChangeChannel returns "changes:{schema}:{table}:{userID}".
// An empty userID yields the table-wide channel.
func BuildChangeChannel(schema, table, userID string) string {
	parts := []string{schema, table}
	if userID != "" {
		parts = append(parts, userID)
	}
	return NamespaceKey(ChangesPrefix, strings.Join(parts, ":"))
}

// BuildHeartbeatChannel returns "changes:heartbeat:{subscriptionID}"
func BuildHeartbeatChannel(subscriptionID string) string {
	return NamespaceKey(ChangesPrefix, "heartbeat:"+subscriptionID)
}

// BuildDailySequenceKey returns "seq:{prefix}:{yyMMdd}"
func BuildDailySequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, prefix+":"+day)
}

// BuildGenerationKey returns "{key}:gen", the invalidation counter of key.
func BuildGenerationKey(key string) string {
	return key + ":gen"
}
