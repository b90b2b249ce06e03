package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics emitted by the dispatch service. The notification gateway and
// the order store consume these; a consumer failure never rolls back
// the assignment that produced the event.
const (
	TopicAssignmentCommitted  = "dispatch.assignment.committed.v1"
	TopicAssignmentReassigned = "dispatch.assignment.reassigned.v1"
	TopicAssignmentReleased   = "dispatch.assignment.released.v1"
)
