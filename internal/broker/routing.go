package broker

// Every instance subscribes to SubjectDirect without a queue group: only the
// one holding the receiver's connection can deliver.
var (
	SubjectPrefix = "chat.direct"
	SubjectDirect = SubjectPrefix + ".*"
)

// Subject returns the subject a message for receiverID is published on.
func Subject(receiverID string) string {
	return SubjectPrefix + "." + receiverID
}
