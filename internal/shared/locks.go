package shared

import "fmt"

// LockKey builds redis keys for advisory edit locks.
func LockKey(resourceType, resourceID string) string {
	return fmt.Sprintf("lock:%s:%s", resourceType, resourceID)
}

// LockTopic names the notification stream for a lock key.
func LockTopic(resourceType, resourceID string) string {
	return fmt.Sprintf("lock-update:%s:%s", resourceType, resourceID)
}
