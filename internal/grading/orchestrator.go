package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chadiek/speaking-exam/internal/exam"
	"github.com/chadiek/speaking-exam/internal/llm"
)

var (
	// ErrIncompleteSession indicates grading was requested before every
	// question had an accepted answer.
	ErrIncompleteSession = errors.New("session incomplete")
)

// Evaluator produces schema-constrained JSON for a grading prompt.
type Evaluator interface {
	GenerateStructured(ctx context.Context, system, prompt string, schema llm.ResponseSchema) (string, error)
}

const systemInstruction = `You are an EXPERT IELTS Speaking Examiner with 20+ years of experience. Your task is to provide a highly detailed, evidence-based evaluation of the student's speaking performance.

CRITICAL INSTRUCTION: You must justify every score with SPECIFIC EXAMPLES (quotes) from the student's transcript. Do not give generic advice.

***SCORING CRITERIA Breakdown:***

1.  **Fluency & Coherence (FC):**
    *   Do they speak at a normal length? Are there long pauses?
    *   Do they use discourse markers (e.g., "However", "On the other hand") effectively?
    *   *Evidence required:* Quote where they hesitated or used good linking words.

2.  **Lexical Resource (LR):**
    *   Do they use a wide range of vocabulary? Is it precise?
    *   Do they use idioms or collocations?
    *   *Evidence required:* Quote specific good/bad vocabulary choices.

3.  **Grammatical Range & Accuracy (GRA):**
    *   Do they use a mix of simple and complex sentences?
    *   Are there frequent errors? Do errors cause confusion?
    *   *Evidence required:* Quote specific grammatical errors and suggest the correct form.

4.  **Pronunciation (P):**
    *   (Inferred from transcript context): Are there garbled words suggesting mispronunciation?
    *   *Note:* Be lenient here as you are grading a transcript, but penalize if the STT output is incomprehensible due to mumbling.

    **FEEDBACK INSTRUCTIONS:**
*   **POSITIVE_FEEDBACK:** Must be specific.
*   **CRITICAL_FEEDBACK:** Must be actionable.
*   **LANGUAGE_ERRORS:**
    *   ` + "`explanation`" + `: Briefly explain WHY it is wrong or better (e.g., "'Immediately' is more natural than 'very fast' in this context").
    *   ` + "`error_type`" + `: Use categories like "Vocabulary", "Grammar", "Pronunciation", "Fluency".
*   **BAND_UPGRADE_TIP:** Give a specific exercise.`

// gradeSchema is the fixed output contract dictated to the evaluator. Field
// names are bit-exact; all six top-level keys are mandatory.
func gradeSchema() llm.ResponseSchema {
	return llm.ResponseSchema{
		Name: "ielts_speaking_grade",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"FINAL_OVERALL_BAND_SCORE": map[string]any{"type": "number"},
				"SCORE_BREAKDOWN": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"Fluency_Coherence":          map[string]any{"type": "number"},
						"Lexical_Resource":           map[string]any{"type": "number"},
						"Grammatical_Range_Accuracy": map[string]any{"type": "number"},
						"Pronunciation":              map[string]any{"type": "number"},
					},
					"required":             []string{"Fluency_Coherence", "Lexical_Resource", "Grammatical_Range_Accuracy", "Pronunciation"},
					"additionalProperties": false,
				},
				"POSITIVE_FEEDBACK": map[string]any{"type": "string"},
				"CRITICAL_FEEDBACK": map[string]any{"type": "string"},
				"LANGUAGE_ERRORS": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"error_type":      map[string]any{"type": "string"},
							"original_phrase": map[string]any{"type": "string"},
							"correction":      map[string]any{"type": "string"},
							"explanation":     map[string]any{"type": "string"},
						},
						"required":             []string{"error_type", "original_phrase", "correction", "explanation"},
						"additionalProperties": false,
					},
				},
				"BAND_UPGRADE_TIP": map[string]any{"type": "string"},
			},
			"required": []string{
				"FINAL_OVERALL_BAND_SCORE", "SCORE_BREAKDOWN", "POSITIVE_FEEDBACK",
				"CRITICAL_FEEDBACK", "LANGUAGE_ERRORS", "BAND_UPGRADE_TIP",
			},
			"additionalProperties": false,
		},
	}
}

// Orchestrator assembles collected answers into one evaluation request and
// normalizes the evaluator's raw output into the canonical result model.
type Orchestrator struct {
	evaluator Evaluator
	sessions  *exam.Manager
}

func NewOrchestrator(evaluator Evaluator, sessions *exam.Manager) *Orchestrator {
	return &Orchestrator{evaluator: evaluator, sessions: sessions}
}

// Submit grades a stored session. The first successful result is cached on
// the session; re-submitting returns it without another evaluator call.
func (o *Orchestrator) Submit(ctx context.Context, sessionID string) (*Result, error) {
	if cached, ok := o.sessions.GradeResult(sessionID); ok {
		if r, ok := cached.(*Result); ok {
			return r, nil
		}
	}

	pairs, err := o.sessions.Answers(sessionID)
	if err != nil {
		return nil, err
	}
	if total := o.sessions.TotalQuestions(); len(pairs) < total {
		return nil, fmt.Errorf("%w: %d of %d questions answered", ErrIncompleteSession, len(pairs), total)
	}

	result, err := o.Grade(ctx, pairs)
	if err != nil {
		return nil, err
	}
	_ = o.sessions.SetGradeResult(sessionID, result)
	return result, nil
}

// Grade evaluates an explicit question/answer set, preserving pairing order.
func (o *Orchestrator) Grade(ctx context.Context, pairs []exam.QAPair) (*Result, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no answers provided", ErrIncompleteSession)
	}
	raw, err := o.evaluator.GenerateStructured(ctx, systemInstruction, buildPrompt(pairs), gradeSchema())
	if err != nil {
		return nil, err
	}
	return normalize(raw)
}

func buildPrompt(pairs []exam.QAPair) string {
	var b strings.Builder
	b.WriteString("Please analyze the following student transcripts against the IELTS Speaking Band Descriptors (FC, LR, GRA, P).\n\n")
	for _, p := range pairs {
		fmt.Fprintf(&b, "**Question %d:** %s\n", p.QuestionID, p.QuestionText)
		fmt.Fprintf(&b, "**Student Answer %d:** %s\n\n", p.QuestionID, p.Transcript)
	}
	b.WriteString("\nBased on this, generate a score for each criterion and a final overall Band Score. BE STRICT. BE DETAILED.")
	return b.String()
}
