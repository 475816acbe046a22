package dialogue

import (
	"strings"

	"github.com/ent0n29/solace/internal/config"
)

// Augment appends the depression resource block and then the off-topic
// redirection paragraph. Either, both or neither may apply.
func Augment(reply string, depressed, redirect bool, d config.Dialogue) string {
	var b strings.Builder
	b.WriteString(reply)
	if depressed {
		b.WriteString("\n\nYou might find these resources helpful:\n- ")
		b.WriteString(d.ResourceLinks.GeneralSupport)
		b.WriteString("\n- ")
		b.WriteString(d.ResourceLinks.TherapyLocator)
		b.WriteString("\n")
		b.WriteString(d.ResourceClosingLine)
	}
	if redirect {
		b.WriteString("\n\n")
		b.WriteString(d.OffTopicRedirectText)
	}
	return b.String()
}
