package counter

// DefaultKeyPrefix namespaces counter keys in a shared store.
const DefaultKeyPrefix = "forkjoin:"

// JoinKey returns the counter key for one fork of one run:
// {prefix}join:{runID}:{forkNodeID}
func JoinKey(prefix, runID, forkNodeID string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + "join:" + runID + ":" + forkNodeID
}
