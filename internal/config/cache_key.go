package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SubjectTokenKey returns the cache key holding the active token id of a subject
func (r *CacheKeyStruct) SubjectTokenKey(subjectID string) string {
	return fmt.Sprintf("login:%s", subjectID)
}

// SessionLockKey returns the lock key guarding a session's status changes
func (r *CacheKeyStruct) SessionLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:lock", sessionID)
}

// InterviewLockKey returns the lock key guarding an interview transcript
func (r *CacheKeyStruct) InterviewLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:turns:lock", sessionID)
}

// AssignmentMonitorChannel returns the Redis PubSub channel name for an assignment monitor
func (r *CacheKeyStruct) AssignmentMonitorChannel(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:monitor", assignmentID)
}

var CacheKey = NewCacheKeyStruct()
