package worker

import (
	"net/url"
	"regexp"
	"strings"
)

// LinkKind classifies the links in a message
type LinkKind int

const (
	NoLink LinkKind = iota
	InviteLink
	SuspiciousLink
)

var (
	invitePattern = regexp.MustCompile(`(?i)(discord\.gg/|discord\.com/invite/|\.gg/)`)
	// edits only count full invite hosts
	editInvitePattern = regexp.MustCompile(`(?i)(discord\.gg/|discord\.com/invite/)`)
	urlPattern        = regexp.MustCompile(`(?i)https?://\S+`)
)

// LinkClassifier finds invite links and links to hosts outside the safe list
type LinkClassifier struct {
	safe []string
}

func NewLinkClassifier(safeDomains []string) *LinkClassifier {
	safe := make([]string, 0, len(safeDomains))
	for _, d := range safeDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			safe = append(safe, strings.TrimPrefix(d, "www."))
		}
	}
	return &LinkClassifier{safe: safe}
}

// Classify looks at a new message. Invites win over other links.
func (c *LinkClassifier) Classify(content string) LinkKind {
	if invitePattern.MatchString(content) {
		return InviteLink
	}
	if c.hasUnsafeURL(content) {
		return SuspiciousLink
	}
	return NoLink
}

// ClassifyEdit reports a link only when the edit added it: an invite the old
// content lacked, or an unsafe link where the old content had no link at all.
func (c *LinkClassifier) ClassifyEdit(before, after string) LinkKind {
	if editInvitePattern.MatchString(after) && !editInvitePattern.MatchString(before) {
		return InviteLink
	}
	if c.hasUnsafeURL(after) && !urlPattern.MatchString(before) {
		return SuspiciousLink
	}
	return NoLink
}

func (c *LinkClassifier) hasUnsafeURL(content string) bool {
	for _, raw := range urlPattern.FindAllString(content, -1) {
		if !c.Safe(raw) {
			return true
		}
	}
	return false
}

// Safe reports whether the link's host is a safe domain or a subdomain of one
func (c *LinkClassifier) Safe(link string) bool {
	u, err := url.Parse(strings.TrimRight(link, ".,;:!?)>\"'"))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.safe {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
