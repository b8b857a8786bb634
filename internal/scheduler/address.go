package scheduler

import (
	"regexp"
	"strings"

	"debatelab/internal/models"
)

// DirectAddressee returns the single candidate named in the message, if
// any. A direct address makes that candidate the exclusive responder for
// the turn. Recognized shapes: the bare name as a word, "@name", "hey
// name", and the name followed by punctuation ("name,", "name?", "name!").
func DirectAddressee(text string, candidates []*models.RoomMember) *models.RoomMember {
	lowered := strings.ToLower(text)
	for _, cand := range candidates {
		name := strings.ToLower(strings.TrimSpace(cand.UserName))
		if name == "" {
			continue
		}
		if addressPattern(name).MatchString(lowered) {
			return cand
		}
	}
	return nil
}

func addressPattern(name string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	// word boundary on both sides covers "jamie", "jamie,", "jamie?",
	// "jamie!", "hey jamie" and "@jamie" alike
	return regexp.MustCompile(`(^|[\s@])` + quoted + `([\s,?!.:;]|$)`)
}
