package pipeline

import (
	"regexp"
	"strings"
)

var (
	taggedDescription = regexp.MustCompile(`(?s)IMAGE PROMPT:\s*(.*?)(?:\nCAPTION:|\z)`)
	taggedCaption     = regexp.MustCompile(`(?s)CAPTION:\s*(.*)\z`)

	promptLabel  = regexp.MustCompile(`(?i)^.*prompt:\s*`)
	captionLabel = regexp.MustCompile(`(?i)^.*caption:\s*`)

	leadingQuote  = regexp.MustCompile(`^["'\[\]]`)
	trailingQuote = regexp.MustCompile(`["'\[\]]$`)
)

// Parse tiers, reported on Expansion.Tier.
const (
	TierTagged = "tagged"
	TierLines  = "lines"
	TierRaw    = "raw"
	TierCanned = "canned"
)

// parseExpansion recovers a description and caption from model output. It
// always returns a description for non-blank input.
func parseExpansion(text, defaultCaption string) Expansion {
	var description, caption, tier string

	d := taggedDescription.FindStringSubmatch(text)
	c := taggedCaption.FindStringSubmatch(text)
	if d != nil && c != nil {
		description = strings.TrimSpace(d[1])
		caption = strings.TrimSpace(c[1])
		tier = TierTagged
	} else {
		for _, line := range strings.Split(text, "\n") {
			lower := strings.ToLower(line)
			switch {
			case strings.Contains(lower, "prompt:"):
				description = strings.TrimSpace(promptLabel.ReplaceAllString(line, ""))
			case strings.Contains(lower, "caption:"):
				caption = strings.TrimSpace(captionLabel.ReplaceAllString(line, ""))
			}
		}
		tier = TierLines
	}

	if description == "" {
		description = strings.TrimSpace(text)
		caption = defaultCaption
		tier = TierRaw
	}
	if caption == "" {
		caption = defaultCaption
	}

	return Expansion{
		Description: cleanQuotes(description),
		Caption:     cleanQuotes(caption),
		Tier:        tier,
	}
}

// cleanQuotes drops one wrapping quote or bracket character from each end.
func cleanQuotes(s string) string {
	s = leadingQuote.ReplaceAllString(s, "")
	return trailingQuote.ReplaceAllString(s, "")
}
