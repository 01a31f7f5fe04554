package notify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// summarize collapses N buffered requests into exactly one summary request
// carrying Count = N. A single-element batch is delivered as-is.
func summarize(reqs []Request) Request {
	if len(reqs) == 1 {
		return reqs[0]
	}

	first := reqs[0]
	n := len(reqs)
	label := typeLabel(first.Type)

	out := Request{
		ID:       uuid.NewString(),
		Type:     first.Type,
		Title:    fmt.Sprintf("%d new %s", n, label),
		Body:     fmt.Sprintf("You received %d %s while this group was batched", n, label),
		Metadata: first.Metadata,
		Priority: first.Priority,
		Actions:  first.Actions,
		GroupID:  first.GroupID,
		Count:    n,
	}
	for _, r := range reqs[1:] {
		if r.Priority > out.Priority {
			out.Priority = r.Priority
		}
	}
	return out
}

// typeLabel renders a Type as a short human plural for summary titles.
func typeLabel(t Type) string {
	switch t {
	case TypeKudosReceived:
		return "kudos"
	case TypeCommentReceived:
		return "comments"
	case TypeNewFollower:
		return "followers"
	default:
		return strings.ReplaceAll(string(t), "_", " ") + " notifications"
	}
}
