package events

// Deterministic job identities. The queue deduplicates on these, so a
// redelivered or repeated enqueue of the same unit of work is a no-op.

func GraphJobID(executionID string) string {
	return "exec-" + executionID + "-graph"
}

func NodeJobID(executionID, nodeID string) string {
	return "exec-" + executionID + "-node-" + nodeID
}

func ResumeJobID(executionID, nodeID string) string {
	return "exec-" + executionID + "-resume-" + nodeID
}
