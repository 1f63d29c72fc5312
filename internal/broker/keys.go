package broker

import "fmt"

// Key-space layout (spec §4.1). Keeping the fmt.Sprintf patterns in one
// file makes the contract auditable in a single place, the way the teacher
// centralizes its own Redis namespace prefixing in
// internal/daemon/redis_wisp_store.go (WithNamespace).

func readingKey(sourceID, sensorID string) string {
	return fmt.Sprintf("source:%s:%s", sourceID, sensorID)
}

func sourceScanPattern(sourceID string) string {
	return fmt.Sprintf("source:%s:*", sourceID)
}

const allSourcesScanPattern = "source:*"

func metaKey(sourceID string) string {
	return fmt.Sprintf("meta:%s", sourceID)
}

func statusKey(sourceID string) string {
	return fmt.Sprintf("status:%s", sourceID)
}

const allStatusesScanPattern = "status:*"

func configKey(section string) string {
	return fmt.Sprintf("config:%s", section)
}

func scanKey(scope string) string {
	return fmt.Sprintf("scan:%s", scope)
}

func dataChannel(sourceID string) string {
	return fmt.Sprintf("data:%s", sourceID)
}

func cmdChannel(target string) string {
	return fmt.Sprintf("cmd:%s", target)
}

func responseChannel(target, requestID string) string {
	return fmt.Sprintf("cmd:%s:response:%s", target, requestID)
}

const configChangedChannel = "config:changed"

const streamEndedChannel = "stream:ended"

const matrixStateChannel = "matrix:state"

// scanCursorBatch is the batch size for incremental cursor scans (spec §4.1).
const scanCursorBatch = 100
