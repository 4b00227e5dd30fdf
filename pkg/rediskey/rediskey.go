package rediskey

import "fmt"

// Key prefixes shared across services.
const (
	AccountPrefix  = "entitlement:account"
	SequencePrefix = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildAccountKey returns "entitlement:account:{userID}"
func BuildAccountKey(userID string) string {
	return NamespaceKey(AccountPrefix, userID)
}

// BuildSequenceKey returns "seq:{prefix}:{scope}:{day}"
func BuildSequenceKey(prefix, scope, day string) string {
	return fmt.Sprintf("%s:%s:%s:%s", SequencePrefix, prefix, scope, day)
}
