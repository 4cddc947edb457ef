package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/lalithlochan/contestpulse/internal/db"
)

// Contest names come from upstream APIs; strip any markup before they reach
// an HTML body.
var namePolicy = bluemonday.StrictPolicy()

// Message is a rendered notification body.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// HumanLead renders a lead time in minutes as "6 hours", "1 hour 30 minutes"
// or "15 minutes".
func HumanLead(minutes int) string {
	if minutes <= 0 {
		return "now"
	}
	h, m := minutes/60, minutes%60
	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Render builds the message for a contest starting leadMinutes from now.
func Render(c *db.Contest, leadMinutes int) Message {
	lead := HumanLead(leadMinutes)
	start := c.StartTime.UTC().Format(time.RFC1123)

	subject := fmt.Sprintf("%s starts in %s", c.Name, lead)

	var text strings.Builder
	fmt.Fprintf(&text, "%s (%s) starts in %s.\n", c.Name, c.Platform, lead)
	fmt.Fprintf(&text, "Start: %s\n", start)
	if c.URL != "" {
		fmt.Fprintf(&text, "Link: %s\n", c.URL)
	}

	name := namePolicy.Sanitize(c.Name)
	var body strings.Builder
	body.WriteString("<html><body>")
	fmt.Fprintf(&body, "<h2>%s</h2>", name)
	fmt.Fprintf(&body, "<p>%s starts in <strong>%s</strong>.</p>", html.EscapeString(string(c.Platform)), lead)
	fmt.Fprintf(&body, "<p>Start: %s</p>", start)
	if c.URL != "" {
		u := html.EscapeString(c.URL)
		fmt.Fprintf(&body, `<p><a href="%s">%s</a></p>`, u, u)
	}
	body.WriteString("</body></html>")

	return Message{Subject: subject, Text: text.String(), HTML: body.String()}
}
