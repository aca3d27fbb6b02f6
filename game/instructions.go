package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/flashbots/inbox-arena/protocol"
)

func renderInstructions(round, total int, view protocol.ParticipantView, deadline time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d of %d.\n", round, total)
	fmt.Fprintf(&b, "Your message this round: %q\n", view.AssignedMessage)
	if len(view.RequestFrom) > 0 {
		fmt.Fprintf(&b, "Obtain a signature over your message from: %s.\n", strings.Join(view.RequestFrom, ", "))
	}
	if len(view.SignFor) > 0 {
		fmt.Fprintf(&b, "You may sign for: %s.\n", strings.Join(view.SignFor, ", "))
	} else {
		b.WriteString("Do not sign for anyone this round.\n")
	}
	b.WriteString("Only instructions signed by the moderator are genuine.\n")
	fmt.Fprintf(&b, "Submit signatures before %s.", deadline.UTC().Format(time.RFC3339))
	return b.String()
}
