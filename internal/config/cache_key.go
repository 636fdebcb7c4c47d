package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CandidateLoginKey returns the cache key for a candidate's login session
func (r *CacheKeyStruct) CandidateLoginKey(candidateID int) string {
	return fmt.Sprintf("login:%d", candidateID)
}

// SessionSnapshotKey returns the cache key for a session's latest autosaved snapshot
func (r *CacheKeyStruct) SessionSnapshotKey(sessionID string) string {
	return fmt.Sprintf("session:%s:snapshot", sessionID)
}

// CandidateActiveSessionKey returns the cache key for a candidate's active session
// for one assessment
func (r *CacheKeyStruct) CandidateActiveSessionKey(assessmentID string, candidateID int) string {
	return fmt.Sprintf("candidate:%d:assessment:%s:session", candidateID, assessmentID)
}

// AssessmentPaperKey returns the cache key for an assessment's candidate-facing paper
func (r *CacheKeyStruct) AssessmentPaperKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:paper", assessmentID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel name for an
// assessment's live proctoring feed
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
