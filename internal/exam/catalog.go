package exam

// Question is one prompt in the exam catalog. Questions are created once at
// startup and never mutated.
type Question struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	Tip  string `json:"tip"`
}

// VoiceProfile describes one synthesis voice offered to the test taker.
// Voice is the synthesis-engine voice code.
type VoiceProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Voice       string `json:"voice"`
	Language    string `json:"language"`
	Gender      string `json:"gender"`
	Recommended bool   `json:"recommended"`
}

// DefaultVoiceID is used when a voice preference is missing or unrecognized.
const DefaultVoiceID = "female"

// DefaultQuestions returns the built-in speaking test catalog.
func DefaultQuestions() []Question {
	return []Question{
		{
			ID:   1,
			Text: "Describe a time when you helped someone. What did you do and why?",
			Tip:  "Focus on using transition words like 'then', 'after', and 'however'.",
		},
		{
			ID:   2,
			Text: "Some people prefer living in a big city, while others prefer the countryside. What is your opinion?",
			Tip:  "Try to give specific examples to support your opinion.",
		},
	}
}

// DefaultVoices returns the enumerated voice catalog.
func DefaultVoices() []VoiceProfile {
	return []VoiceProfile{
		{ID: "male", Name: "Adam (US Male)", Voice: "pNInz6obpgDQGcFmaJgB", Language: "en-US", Gender: "male", Recommended: true},
		{ID: "female", Name: "Rachel (US Female)", Voice: "21m00Tcm4TlvDq8ikWAM", Language: "en-US", Gender: "female", Recommended: true},
		{ID: "british", Name: "Dorothy (UK Female)", Voice: "ThT5KcBeYPX3keUQqHPh", Language: "en-GB", Gender: "female", Recommended: false},
	}
}
