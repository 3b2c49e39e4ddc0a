package envelope

import (
	"github.com/nbd-wtf/go-nostr"

	"murmur/internal/dm"
)

// ParseTags converts wire tags into typed variants once, at the boundary.
// Unknown shapes are preserved, not dropped, so outbound round-trips keep
// annotations intact.
func ParseTags(tags nostr.Tags) []dm.Tag {
	out := make([]dm.Tag, 0, len(tags))
	for _, t := range tags {
		if len(t) == 0 {
			continue
		}
		parsed := dm.Tag{Kind: dm.TagUnknown, Raw: append([]string(nil), t...)}

		switch t[0] {
		case "p":
			if len(t) >= 2 && t[1] != "" {
				parsed.Kind = dm.TagRecipient
				parsed.Value = t[1]
				if len(t) >= 3 {
					parsed.Relay = t[2]
				}
			}
		case "e":
			if len(t) >= 2 && t[1] != "" {
				parsed.Kind = dm.TagReplyRef
				parsed.Value = t[1]
				if len(t) >= 3 {
					parsed.Relay = t[2]
				}
			}
		case "r":
			if len(t) >= 2 && t[1] != "" {
				parsed.Kind = dm.TagRelayHint
				parsed.Value = t[1]
			}
		}
		out = append(out, parsed)
	}
	return out
}

// replyTo extracts the parent-message reference: the NIP-10 "reply"-marked
// e tag when present, otherwise the first e tag.
func replyTo(tags nostr.Tags) string {
	var first string
	for _, t := range tags {
		if len(t) < 2 || t[0] != "e" || t[1] == "" {
			continue
		}
		if first == "" {
			first = t[1]
		}
		if len(t) >= 4 && t[3] == "reply" {
			return t[1]
		}
	}
	return first
}

// recipientKeys returns the values of all "p" tags in order.
func recipientKeys(tags nostr.Tags) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "p" && t[1] != "" {
			out = append(out, t[1])
		}
	}
	return out
}
