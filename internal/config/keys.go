package config

import "strconv"

// keyNamespace prefixes every Redis key the station and workstations share.
const keyNamespace = "lockdown"

type cacheKeys struct{}

// CacheKey names the Redis pub/sub channels.
var CacheKey cacheKeys

// ExamMonitorChannel carries an exam's activity entries to live proctor feeds.
func (cacheKeys) ExamMonitorChannel(examID int64) string {
	return keyNamespace + ":exam:" + strconv.FormatInt(examID, 10) + ":monitor"
}

type workerKeys struct {
	PersistActivityQueue string
}

// WorkerKey names the Redis lists drained by background workers.
var WorkerKey = workerKeys{
	PersistActivityQueue: keyNamespace + ":queue:activity",
}
