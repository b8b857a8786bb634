package moderation

import "strings"

// denylist is the tier-2 fallback filter: crude case-insensitive substring
// matching, only consulted when the provider classifier is unreachable.
var denylist = []string{
	"kill yourself",
	"kys",
	"die in a fire",
	"go die",
	"slur",
	"nazi",
	"rape",
	"lynch",
	"i will find you",
	"dox",
}

// matchKeywords returns every denylist term present in the text.
func matchKeywords(text string) []string {
	lowered := strings.ToLower(text)
	var hits []string
	for _, term := range denylist {
		if strings.Contains(lowered, term) {
			hits = append(hits, term)
		}
	}
	return hits
}
