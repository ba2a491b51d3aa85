package redis

// Redis key naming conventions for conversion job data.
// All keys are prefixed with "ppt2img:" to avoid collisions.

const keyPrefix = "ppt2img:"

// jobKey returns the key for a job entity: ppt2img:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// queueKey is the Sorted Set of queued job IDs scored by admission time.
const queueKey = keyPrefix + "queue"

// activeKey is the Set of job IDs counted against the admission limit
// (queued plus processing).
const activeKey = keyPrefix + "active"
