package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// ScenePrefix opens every collaborative scene description.
const ScenePrefix = "Put these two people in"

// Default captions substituted when the model output carries no caption.
const (
	DailyDefaultCaption  = "Another day, another selfie! 📸"
	TaggedDefaultCaption = "Collaborative selfie with friends! 📸✨"
)

// Instruction is one expansion request: the text sent to the model, the
// caption used when only a description was recovered, and the pair used when
// the model could not be reached at all.
type Instruction struct {
	Prompt         string
	DefaultCaption string
	Fallback       Expansion
}

// TaggedInstruction asks for a two-person scene, built on seed when the
// requester supplied one.
func TaggedInstruction(seed string) Instruction {
	seed = strings.TrimSpace(seed)

	var prompt string
	if seed != "" {
		prompt = fmt.Sprintf(`A user wants to create a collaborative selfie post. They provided this prompt: "%s".

Create a detailed image generation prompt that starts with "%s" and then describes a scene where both people are together, incorporating the user's idea while making it feel natural and Instagram-worthy.

Return EXACTLY in this format:
IMAGE PROMPT: %s [detailed scene description here]
CAPTION: [short Instagram caption here]`, seed, ScenePrefix, ScenePrefix)
	} else {
		prompt = fmt.Sprintf(`A user wants to create a collaborative selfie post but didn't provide a specific prompt. Generate a creative, fun idea for a collaborative selfie between two friends.

Think of popular Instagram trends, fun activities, or interesting locations where two people might take a selfie together. The image prompt must start with "%s".

Return EXACTLY in this format:
IMAGE PROMPT: %s [detailed scene description here]
CAPTION: [short Instagram caption here]`, ScenePrefix, ScenePrefix)
	}

	return Instruction{
		Prompt:         prompt,
		DefaultCaption: TaggedDefaultCaption,
		Fallback: Expansion{
			Description: ScenePrefix + " a fun, collaborative selfie scene",
			Caption:     TaggedDefaultCaption,
		},
	}
}

// DailyInstruction asks for today's selfie, days after (or before, when
// negative) the baseline selfie taken on baseline.
func DailyInstruction(days int, baseline time.Time) Instruction {
	abs, direction := days, "future"
	if days < 0 {
		abs, direction = -days, "past"
	}

	prompt := fmt.Sprintf(`I take a selfie every single day. This image is the original selfie. It was taken %d days ago, on %s in New York, New York. Create an image prompt for my selfie that would take place today %d days into the %s. Think: What would I be doing, where am I, what would I look like, what will the time difference have done to my hair, body, clothes, activities etc.

IMPORTANT: Return EXACTLY in this format with no extra text:

IMAGE PROMPT: [your detailed image prompt here]
CAPTION: [short caption for the selfie here]`, abs, longDate(baseline), abs, direction)

	return Instruction{
		Prompt:         prompt,
		DefaultCaption: DailyDefaultCaption,
		Fallback: Expansion{
			Description: "A relaxed everyday selfie in New York, natural light, same outfit style as the original",
			Caption:     DailyDefaultCaption,
		},
	}
}

// DailyScene is the synthesis prompt for the owner's daily selfie.
func DailyScene(description string) string {
	return fmt.Sprintf("This is my current selfie as a 24 year old. Create a new image based on this prompt: %s. Keep my general appearance but modify it according to the prompt.", description)
}

// TaggedScene is the synthesis prompt for a collaborative selfie. The first
// reference image is the requester, the second the owner.
func TaggedScene(description, ownerHandle string) string {
	return fmt.Sprintf(`%s.

The first image shows the user's appearance - incorporate their style and look. The second image shows my appearance (%s) - incorporate my look as well.

Create a scene where both people are together in the same photo, both looking good and natural. Make it feel like a real collaborative Instagram post between friends.`, description, ownerHandle)
}

// longDate renders t as "September 25th, 2025".
func longDate(t time.Time) string {
	return fmt.Sprintf("%s %d%s, %d", t.Month(), t.Day(), ordinalSuffix(t.Day()), t.Year())
}

func ordinalSuffix(day int) string {
	if day%100 >= 11 && day%100 <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
