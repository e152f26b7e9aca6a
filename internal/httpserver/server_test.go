package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chadiek/speaking-exam/internal/exam"
	"github.com/chadiek/speaking-exam/internal/grading"
	"github.com/chadiek/speaking-exam/internal/llm"
)

const validGradeJSON = `{
	"FINAL_OVERALL_BAND_SCORE": 6.5,
	"SCORE_BREAKDOWN": {
		"Fluency_Coherence": 6.0,
		"Lexical_Resource": 6.5,
		"Grammatical_Range_Accuracy": 6.5,
		"Pronunciation": 7.0
	},
	"POSITIVE_FEEDBACK": "You maintained a steady pace throughout the answers.\nGood use of linking words between ideas.",
	"CRITICAL_FEEDBACK": "Article usage is inconsistent in longer sentences.",
	"LANGUAGE_ERRORS": [
		{
			"error_type": "Grammar",
			"original_phrase": "I have went there",
			"correction": "I have gone there",
			"explanation": "Present perfect requires the past participle form."
		}
	],
	"BAND_UPGRADE_TIP": "Practice complex sentences with subordinate clauses to push grammar toward band 7."
}`

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeSynthesizer struct {
	audio []byte
	mime  string
	err   error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voiceCode string) ([]byte, string, error) {
	return f.audio, f.mime, f.err
}

type fakeEvaluator struct {
	response string
	err      error
	calls    int
}

func (f *fakeEvaluator) GenerateStructured(ctx context.Context, system, prompt string, schema llm.ResponseSchema) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type testEnv struct {
	srv         *Server
	sessions    *exam.Manager
	transcriber *fakeTranscriber
	synthesizer *fakeSynthesizer
	evaluator   *fakeEvaluator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := exam.NewManager(exam.DefaultQuestions(), exam.DefaultVoices(), 0)
	t.Cleanup(m.Close)

	tr := &fakeTranscriber{text: "I spent last summer learning to paint with my grandmother"}
	sy := &fakeSynthesizer{audio: []byte("mp3-bytes"), mime: "audio/mpeg"}
	ev := &fakeEvaluator{response: validGradeJSON}

	return &testEnv{
		srv:         New(m, tr, sy, grading.NewOrchestrator(ev, m)),
		sessions:    m,
		transcriber: tr,
		synthesizer: sy,
		evaluator:   ev,
	}
}

func (te *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	te.srv.Router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target string, body any) *http.Request {
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func audioRequest(t *testing.T, target, mimeType string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="audio_file"; filename="answer.wav"`}
	h["Content-Type"] = []string{mimeType}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte("fake-pcm-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthz(t *testing.T) {
	te := newTestEnv(t)
	rec := te.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	te := newTestEnv(t)

	rec := te.do(jsonRequest(http.MethodPost, "/api/sessions", map[string]string{"voice": "male"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		SessionID   string          `json:"session_id"`
		Questions   []exam.Question `json:"questions"`
		VoiceConfig struct {
			Selected string              `json:"selected"`
			Options  []exam.VoiceProfile `json:"options"`
		} `json:"voice_config"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.SessionID == "" || len(started.Questions) == 0 || len(started.VoiceConfig.Options) == 0 {
		t.Fatalf("incomplete start payload: %s", rec.Body.String())
	}

	rec = te.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+started.SessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("info status %d", rec.Code)
	}
	var info exam.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Status != exam.StatusActive || info.AnswersCompleted != 0 {
		t.Fatalf("unexpected info: %+v", info)
	}

	rec = te.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+started.SessionID+"/question", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("question status %d", rec.Code)
	}
	var q exam.Question
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if q.ID != started.Questions[0].ID {
		t.Fatalf("expected first question, got %d", q.ID)
	}

	rec = te.do(httptest.NewRequest(http.MethodDelete, "/api/sessions/"+started.SessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = te.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+started.SessionID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestSessionInfo_Unknown(t *testing.T) {
	te := newTestEnv(t)
	rec := te.do(httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestVoices(t *testing.T) {
	te := newTestEnv(t)
	rec := te.do(httptest.NewRequest(http.MethodGet, "/api/voices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string][]exam.VoiceProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp["voices"]) < 2 {
		t.Fatalf("expected voice catalog, got %v", resp)
	}
}

func TestSpeech(t *testing.T) {
	te := newTestEnv(t)
	rec := te.do(jsonRequest(http.MethodPost, "/api/speech", map[string]string{
		"text":  "Describe a skill you recently learned.",
		"voice": "female",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("content type %q", ct)
	}
	if rec.Body.String() != "mp3-bytes" {
		t.Fatalf("body mismatch: %q", rec.Body.String())
	}
}

func TestSpeech_RequiresText(t *testing.T) {
	te := newTestEnv(t)
	rec := te.do(jsonRequest(http.MethodPost, "/api/speech", map[string]string{"voice": "female"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSpeech_EngineFailure(t *testing.T) {
	te := newTestEnv(t)
	te.synthesizer.err = errors.New("engine down")
	rec := te.do(jsonRequest(http.MethodPost, "/api/speech", map[string]string{"text": "hello", "voice": "female"}))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestTranscribe_RejectsBadMIMEWithoutUpstreamCall(t *testing.T) {
	te := newTestEnv(t)
	rec := te.do(audioRequest(t, "/api/transcriptions", "video/mp4", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if te.transcriber.calls != 0 {
		t.Fatalf("transcriber must not be called for rejected clips, got %d", te.transcriber.calls)
	}
}

func TestTranscribe_ShortAnswerRejected(t *testing.T) {
	te := newTestEnv(t)
	te.transcriber.text = "um yes"
	rec := te.do(audioRequest(t, "/api/transcriptions", "audio/wav", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Recording too short") {
		t.Fatalf("expected rejection reason, got %s", rec.Body.String())
	}
}

func TestTranscribe_RecordsAnswer(t *testing.T) {
	te := newTestEnv(t)
	started := te.sessions.Start("")

	rec := te.do(audioRequest(t, "/api/transcriptions", "audio/wav", map[string]string{
		"session_id":  started.ID,
		"question_id": fmt.Sprint(started.Questions[0].ID),
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp transcribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Transcript != te.transcriber.text || resp.WordCount < 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	info, err := te.sessions.Info(started.ID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.AnswersCompleted != 1 {
		t.Fatalf("answer not recorded: %+v", info)
	}
}

func TestTranscribe_QuestionAheadOfCursor(t *testing.T) {
	te := newTestEnv(t)
	started := te.sessions.Start("")

	rec := te.do(audioRequest(t, "/api/transcriptions", "audio/wav", map[string]string{
		"session_id":  started.ID,
		"question_id": fmt.Sprint(started.Questions[len(started.Questions)-1].ID),
	}))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func completeSession(t *testing.T, te *testEnv) string {
	t.Helper()
	started := te.sessions.Start("")
	for _, q := range started.Questions {
		if _, err := te.sessions.AcceptAnswer(started.ID, q.ID, "this is a long enough spoken answer for the test"); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	return started.ID
}

func TestGrading_StoredSession(t *testing.T) {
	te := newTestEnv(t)
	id := completeSession(t, te)

	rec := te.do(jsonRequest(http.MethodPost, "/api/grading", map[string]any{"session_id": id}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var result grading.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.OverallBand != 6.5 || len(result.LanguageErrors) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGrading_InlineAnswers(t *testing.T) {
	te := newTestEnv(t)

	var pairs []exam.QAPair
	for _, q := range te.sessions.Questions() {
		pairs = append(pairs, exam.QAPair{
			QuestionID:   q.ID,
			QuestionText: q.Text,
			Transcript:   "a sufficiently long transcript answering the question in detail",
		})
	}
	rec := te.do(jsonRequest(http.MethodPost, "/api/grading", map[string]any{"answers": pairs}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if te.evaluator.calls != 1 {
		t.Fatalf("expected one evaluator call, got %d", te.evaluator.calls)
	}
}

func TestGrading_InlineAnswersIncomplete(t *testing.T) {
	te := newTestEnv(t)
	pairs := []exam.QAPair{{QuestionID: 1, QuestionText: "q", Transcript: "one answer only but it is long enough"}}
	rec := te.do(jsonRequest(http.MethodPost, "/api/grading", map[string]any{"answers": pairs}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if te.evaluator.calls != 0 {
		t.Fatalf("incomplete submissions must not reach the evaluator")
	}
}

func TestGrading_IncompleteStoredSession(t *testing.T) {
	te := newTestEnv(t)
	started := te.sessions.Start("")
	rec := te.do(jsonRequest(http.MethodPost, "/api/grading", map[string]any{"session_id": started.ID}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGrading_EvaluatorOutage(t *testing.T) {
	te := newTestEnv(t)
	te.evaluator.err = llm.ErrUnavailable
	id := completeSession(t, te)

	rec := te.do(jsonRequest(http.MethodPost, "/api/grading", map[string]any{"session_id": id}))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestGrading_Criteria(t *testing.T) {
	te := newTestEnv(t)
	rec := te.do(httptest.NewRequest(http.MethodGet, "/api/grading/criteria", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["criteria"]; !ok {
		t.Fatalf("missing criteria key: %v", resp)
	}
}
