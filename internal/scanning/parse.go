package scanning

import (
	"strings"
)

// transcriptionPrompt is shared by every OCR provider
const transcriptionPrompt = `You are transcribing a scanned accounting document (invoice, receipt, bill or quote).

Return the complete text of the document exactly as printed:
- Keep the original language. Do not translate, summarize or correct anything.
- Keep one printed line per output line, in reading order from top to bottom.
- For tables, write each row on its own line with cells separated by two spaces.
- Keep numbers, dates, currency symbols and punctuation exactly as they appear.
- If the document contains no readable text, return nothing.

Return only the transcription, with no commentary and no markdown code blocks.`

// cleanTranscription strips the markdown fences some models wrap around their answer
func cleanTranscription(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	// drop a language tag such as ```text
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], " \t") {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
