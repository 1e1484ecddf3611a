package message

import (
	"regexp"
	"strings"
)

// Mail forwarded by hand is pasted as plain text rather than nested as a
// proper MIME part, so the original routing information survives only as
// "From:"/"To:" lines inside the body. These patterns mirror that shape.
var (
	forwardLineRe = regexp.MustCompile(`(From:.*\S+@\S+|To:.*\S+@\S+)`)
	addressRe     = regexp.MustCompile(`\S+@\S+`)
	dateLineRe    = regexp.MustCompile(`Date:[\S ]+`)
)

var angleReplacer = strings.NewReplacer("<", "", ">", "")

// Forwarded inspects a message body for the header lines of a manually
// forwarded mail. When the second matched line's address is one of the
// well-known forwarder addresses, it returns the first matched line's
// address as the true sender together with the value of the body's "Date:"
// line (empty if none is present), and true. Otherwise ok is false and the
// caller keeps the envelope sender and header dates.
func Forwarded(body string, wellKnown []string) (sender, dateLine string, ok bool) {
	matches := forwardLineRe.FindAllString(body, -1)
	if len(matches) < 2 {
		return "", "", false
	}

	target := lastAddress(matches[1])
	if !containsAddress(wellKnown, target) {
		return "", "", false
	}

	sender = lastAddress(matches[0])

	if line := dateLineRe.FindString(body); line != "" {
		dateLine = strings.TrimSpace(strings.TrimPrefix(line, "Date:"))
	}

	return sender, dateLine, true
}

// lastAddress extracts the last email-address-shaped token from a line,
// stripped of angle brackets.
func lastAddress(line string) string {
	addresses := addressRe.FindAllString(line, -1)
	if len(addresses) == 0 {
		return ""
	}
	return angleReplacer.Replace(addresses[len(addresses)-1])
}

func containsAddress(addresses []string, address string) bool {
	for _, a := range addresses {
		if a == address {
			return true
		}
	}
	return false
}
