package records

import (
	"fmt"
	"strings"
)

// FormatLinks renders the history for the admin console, newest first.
func FormatLinks(links []Link) string {
	if len(links) == 0 {
		return "No links recorded yet."
	}
	var b strings.Builder
	b.WriteString("Recent links:\n")
	for _, l := range links {
		fmt.Fprintf(&b, "%s | user %d | %s\n",
			l.RequestedAt.Format("2006-01-02 15:04"), l.UserID, l.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
