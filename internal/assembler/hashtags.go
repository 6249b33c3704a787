package assembler

import (
	"regexp"
	"strings"
)

var (
	instructionPhrase = regexp.MustCompile(`(?i)^\s*put\s+these\s+two\s+people\s+in(?:\s+|\z)(?:(?:a|an|the)\s+)?`)
	clauseBreak       = regexp.MustCompile(`[.!?]+`)
	nonTagChars       = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespace        = regexp.MustCompile(`\s+`)
)

// HashtagMode selects how a description becomes hashtags.
type HashtagMode int

const (
	// SingleHashtag folds the whole description into one tag.
	SingleHashtag HashtagMode = iota
	// ClauseHashtags makes one tag per sentence.
	ClauseHashtags
)

func normalizeTag(s string) string {
	s = nonTagChars.ReplaceAllString(strings.ToLower(s), "")
	return "#" + whitespace.ReplaceAllString(s, "")
}

// Single returns the description as one hashtag, with the leading
// "put these two people in" phrase and a following article removed. It
// returns "" when nothing is left.
func Single(description string) string {
	tag := normalizeTag(instructionPhrase.ReplaceAllString(description, ""))
	if tag == "#" {
		return ""
	}
	return tag
}

// Clauses splits the description on sentence punctuation and returns one
// hashtag per clause, dropping tags with no characters after the '#'.
func Clauses(description string) []string {
	var tags []string
	for _, clause := range clauseBreak.Split(description, -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if tag := normalizeTag(clause); len(tag) > 1 {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Hashtags applies mode to description.
func Hashtags(description string, mode HashtagMode) []string {
	if mode == ClauseHashtags {
		return Clauses(description)
	}
	if tag := Single(description); tag != "" {
		return []string{tag}
	}
	return nil
}
