package exam

import "strings"

// MinAnswerWords is the minimum word count for an accepted transcript.
// Transcribed silence or noise commonly yields near-empty strings that would
// corrupt the grading input.
const MinAnswerWords = 3

// Verdict is the outcome of the transcript quality gate. A rejection is a
// normal result branch, not an error.
type Verdict struct {
	OK        bool
	WordCount int
	Reason    string
}

// ValidateTranscript trims the transcript and counts whitespace-separated
// words, rejecting empty or too-short answers.
func ValidateTranscript(transcript string) Verdict {
	words := strings.Fields(strings.TrimSpace(transcript))
	if len(words) < MinAnswerWords {
		return Verdict{Reason: "Recording too short or silent. Please speak more clearly."}
	}
	return Verdict{OK: true, WordCount: len(words)}
}
