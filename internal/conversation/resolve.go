package conversation

import (
	"regexp"
	"strings"
)

// Separator joins the two participant ids of a conversation id. Valid
// participant ids never contain it.
const Separator = "_"

var participantIdPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ValidParticipantId reports whether id can take part in a conversation.
func ValidParticipantId(id string) bool {
	return participantIdPattern.MatchString(id)
}

// Resolve returns the conversation id shared by a and b. The result does not
// depend on argument order.
func Resolve(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Participants splits a conversation id back into its two participants.
func Participants(conversationId string) (string, string, bool) {
	a, b, ok := strings.Cut(conversationId, Separator)
	if !ok || !ValidParticipantId(a) || !ValidParticipantId(b) || b < a {
		return "", "", false
	}
	return a, b, true
}

// Includes reports whether userId is one of the participants of conversationId.
func Includes(conversationId, userId string) bool {
	a, b, ok := Participants(conversationId)
	return ok && (userId == a || userId == b)
}
