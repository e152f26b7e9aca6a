package grading

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse indicates an evaluator response that parsed as JSON
// but violated the required-field contract. Kept distinct from
// llm.ErrUnavailable so callers can tell "ask again" from "fix the request".
var ErrMalformedResponse = errors.New("malformed evaluator response")

// minFeedbackLen filters out fragments too short to be meaningful feedback.
const minFeedbackLen = 10

// LanguageError is one corrected language mistake.
type LanguageError struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation"`
	ErrorType   string `json:"error_type"`
}

// ScoreBreakdown holds the four rubric sub-scores on the 0-9 band scale.
type ScoreBreakdown struct {
	Fluency       float64 `json:"fluency"`
	Lexical       float64 `json:"lexical"`
	Grammar       float64 `json:"grammar"`
	Pronunciation float64 `json:"pronunciation"`
}

// Result is the canonical post-normalization grading outcome.
type Result struct {
	OverallBand      float64         `json:"overall_band"`
	Scores           ScoreBreakdown  `json:"scores"`
	PositiveFeedback []string        `json:"positive_feedback"`
	CriticalFeedback []string        `json:"critical_feedback"`
	LanguageErrors   []LanguageError `json:"language_errors"`
	BandUpgradeTip   string          `json:"band_upgrade_tip"`
}

type rawBreakdown struct {
	Fluency       *float64 `json:"Fluency_Coherence"`
	Lexical       *float64 `json:"Lexical_Resource"`
	Grammar       *float64 `json:"Grammatical_Range_Accuracy"`
	Pronunciation *float64 `json:"Pronunciation"`
}

type rawLanguageError struct {
	ErrorType      string `json:"error_type"`
	OriginalPhrase string `json:"original_phrase"`
	Correction     string `json:"correction"`
	Explanation    string `json:"explanation"`
}

type rawGrade struct {
	OverallBand *float64            `json:"FINAL_OVERALL_BAND_SCORE"`
	Breakdown   *rawBreakdown       `json:"SCORE_BREAKDOWN"`
	Positive    *string             `json:"POSITIVE_FEEDBACK"`
	Critical    *string             `json:"CRITICAL_FEEDBACK"`
	Errors      *[]rawLanguageError `json:"LANGUAGE_ERRORS"`
	UpgradeTip  *string             `json:"BAND_UPGRADE_TIP"`
}

// normalize parses raw evaluator JSON and maps it to the canonical Result.
// Any missing mandatory field fails the whole response; there is no partial
// recovery.
func normalize(raw string) (*Result, error) {
	var g rawGrade
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch {
	case g.OverallBand == nil:
		return nil, fmt.Errorf("%w: missing FINAL_OVERALL_BAND_SCORE", ErrMalformedResponse)
	case g.Breakdown == nil:
		return nil, fmt.Errorf("%w: missing SCORE_BREAKDOWN", ErrMalformedResponse)
	case g.Breakdown.Fluency == nil || g.Breakdown.Lexical == nil || g.Breakdown.Grammar == nil || g.Breakdown.Pronunciation == nil:
		return nil, fmt.Errorf("%w: incomplete SCORE_BREAKDOWN", ErrMalformedResponse)
	case g.Positive == nil:
		return nil, fmt.Errorf("%w: missing POSITIVE_FEEDBACK", ErrMalformedResponse)
	case g.Critical == nil:
		return nil, fmt.Errorf("%w: missing CRITICAL_FEEDBACK", ErrMalformedResponse)
	case g.Errors == nil:
		return nil, fmt.Errorf("%w: missing LANGUAGE_ERRORS", ErrMalformedResponse)
	case g.UpgradeTip == nil:
		return nil, fmt.Errorf("%w: missing BAND_UPGRADE_TIP", ErrMalformedResponse)
	}

	languageErrors := make([]LanguageError, 0, len(*g.Errors))
	for _, e := range *g.Errors {
		category := e.ErrorType
		if category == "" {
			category = "General"
		}
		languageErrors = append(languageErrors, LanguageError{
			Original:    e.OriginalPhrase,
			Corrected:   e.Correction,
			Explanation: e.Explanation,
			ErrorType:   category,
		})
	}

	return &Result{
		OverallBand: *g.OverallBand,
		Scores: ScoreBreakdown{
			Fluency:       *g.Breakdown.Fluency,
			Lexical:       *g.Breakdown.Lexical,
			Grammar:       *g.Breakdown.Grammar,
			Pronunciation: *g.Breakdown.Pronunciation,
		},
		PositiveFeedback: SplitFeedback(*g.Positive),
		CriticalFeedback: SplitFeedback(*g.Critical),
		LanguageErrors:   languageErrors,
		BandUpgradeTip:   *g.UpgradeTip,
	}, nil
}

// SplitFeedback breaks a free-text feedback blob into discrete points: split
// on line breaks, strip leading bullet markers, drop fragments at or under
// minFeedbackLen characters. The evaluator's prose formatting is not
// contractually guaranteed, so when nothing survives the original text comes
// back as a single point rather than an empty list.
func SplitFeedback(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "•-*"))
		if line != "" && len(line) > minFeedbackLen {
			points = append(points, line)
		}
	}
	if len(points) == 0 {
		return []string{text}
	}
	return points
}
