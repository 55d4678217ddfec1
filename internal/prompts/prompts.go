package prompts

import "fmt"

const DefaultSummary = `You summarize meeting transcripts. Reply with JSON only, no prose, in this shape:
{"bullets": ["..."], "action_items": ["..."]}
Bullets are 3 to 7 short statements of what was discussed or decided.
Action items name the owner when the transcript makes it clear. Use an empty list when there are none.`

// ForSummary resolves the system prompt for local summarization.
func ForSummary(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSummary
}

// Transcript wraps a meeting transcript into the user message.
func Transcript(title, text string) string {
	return fmt.Sprintf("Meeting: %s\n\nTranscript:\n%s", title, text)
}
