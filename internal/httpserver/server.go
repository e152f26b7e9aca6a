package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chadiek/speaking-exam/internal/exam"
	"github.com/chadiek/speaking-exam/internal/grading"
	"github.com/chadiek/speaking-exam/internal/llm"
	"github.com/chadiek/speaking-exam/internal/transcript"
)

const (
	speechTimeout     = 30 * time.Second
	transcribeTimeout = 90 * time.Second
	gradingTimeout    = 60 * time.Second
)

// Server bundles the HTTP router and the exam pipeline dependencies.
type Server struct {
	Router *echo.Echo

	sessions    *exam.Manager
	transcriber exam.Transcriber
	synthesizer exam.Synthesizer
	grader      *grading.Orchestrator
}

// New constructs a configured Echo server with all routes registered.
func New(sessions *exam.Manager, transcriber exam.Transcriber, synthesizer exam.Synthesizer, grader *grading.Orchestrator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		Router:      e,
		sessions:    sessions,
		transcriber: transcriber,
		synthesizer: synthesizer,
		grader:      grader,
	}
	s.register(e)
	return s
}

func (s *Server) register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	api.POST("/sessions", s.startSession)
	api.GET("/sessions/:id", s.sessionInfo)
	api.GET("/sessions/:id/question", s.currentQuestion)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.GET("/voices", s.voices)
	api.POST("/speech", s.speech)
	api.POST("/transcriptions", s.transcribe)
	api.POST("/grading", s.grade)
	api.GET("/grading/criteria", s.criteria)
}

type startSessionRequest struct {
	Voice string `json:"voice"`
}

type voiceConfig struct {
	Selected string              `json:"selected"`
	Options  []exam.VoiceProfile `json:"options"`
}

type startSessionResponse struct {
	SessionID   string          `json:"session_id"`
	Questions   []exam.Question `json:"questions"`
	VoiceConfig voiceConfig     `json:"voice_config"`
}

func (s *Server) startSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	started := s.sessions.Start(req.Voice)
	return c.JSON(http.StatusCreated, startSessionResponse{
		SessionID: started.ID,
		Questions: started.Questions,
		VoiceConfig: voiceConfig{
			Selected: started.Voice.Voice,
			Options:  started.Voices,
		},
	})
}

func (s *Server) sessionInfo(c echo.Context) error {
	info, err := s.sessions.Info(c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) currentQuestion(c echo.Context) error {
	q, err := s.sessions.CurrentQuestion(c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

func (s *Server) deleteSession(c echo.Context) error {
	s.sessions.Delete(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func (s *Server) voices(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]exam.VoiceProfile{"voices": s.sessions.Voices()})
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (s *Server) speech(c echo.Context) error {
	var req speechRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	// A catalog id ("female") resolves to its engine code; anything else is
	// passed through as a raw engine voice code.
	code := req.Voice
	for _, v := range s.sessions.Voices() {
		if v.ID == req.Voice {
			code = v.Voice
			break
		}
	}
	if code == "" {
		code = s.sessions.ResolveVoice("").Voice
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), speechTimeout)
	defer cancel()
	audio, mime, err := s.synthesizer.Synthesize(ctx, req.Text, code)
	if err != nil {
		log.Printf("speech synthesis failed: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "speech synthesis failed")
	}

	c.Response().Header().Set("Content-Disposition", "inline; filename=question.mp3")
	c.Response().Header().Set("Cache-Control", "public, max-age=3600")
	return c.Blob(http.StatusOK, mime, audio)
}

type transcribeResponse struct {
	Transcript string  `json:"transcript"`
	WordCount  int     `json:"word_count"`
	Duration   float64 `json:"duration"`
}

func (s *Server) transcribe(c echo.Context) error {
	fh, err := c.FormFile("audio_file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio_file is required")
	}

	mimeType := fh.Header.Get("Content-Type")
	if err := transcript.ValidateClip(fh.Size, mimeType); err != nil {
		return s.mapError(c, err)
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read audio_file")
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read audio_file")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), transcribeTimeout)
	defer cancel()
	text, err := s.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return s.mapError(c, err)
	}

	verdict := exam.ValidateTranscript(text)
	if !verdict.OK {
		return echo.NewHTTPError(http.StatusBadRequest, verdict.Reason)
	}

	// When the caller names a session and question, record the answer.
	if sessionID := c.FormValue("session_id"); sessionID != "" {
		questionID, convErr := strconv.Atoi(c.FormValue("question_id"))
		if convErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid question_id")
		}
		if _, err := s.sessions.AcceptAnswer(sessionID, questionID, text); err != nil {
			return s.mapError(c, err)
		}
	}

	// rough estimate assuming 16kHz 16-bit audio
	duration := math.Round(float64(len(audio))/(16000*2)*100) / 100
	return c.JSON(http.StatusOK, transcribeResponse{
		Transcript: text,
		WordCount:  verdict.WordCount,
		Duration:   duration,
	})
}

type gradingRequest struct {
	SessionID string        `json:"session_id"`
	Answers   []exam.QAPair `json:"answers"`
}

func (s *Server) grade(c echo.Context) error {
	var req gradingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), gradingTimeout)
	defer cancel()

	var (
		result *grading.Result
		err    error
	)
	if len(req.Answers) > 0 {
		if total := s.sessions.TotalQuestions(); len(req.Answers) < total {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("incomplete submission: %d of %d answers", len(req.Answers), total))
		}
		result, err = s.grader.Grade(ctx, req.Answers)
	} else {
		result, err = s.grader.Submit(ctx, req.SessionID)
	}
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) criteria(c echo.Context) error {
	return c.JSON(http.StatusOK, gradingCriteria)
}

// mapError translates the pipeline error taxonomy to HTTP status codes. Only
// a short category reaches the client; details stay in the server log.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, exam.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, exam.ErrOutOfRange):
		return echo.NewHTTPError(http.StatusConflict, "question out of range")
	case errors.Is(err, transcript.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, grading.ErrIncompleteSession):
		return echo.NewHTTPError(http.StatusBadRequest, "incomplete session")
	case errors.Is(err, llm.ErrUnconfigured):
		log.Printf("evaluator unconfigured: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "grading not configured")
	case errors.Is(err, llm.ErrUnavailable):
		log.Printf("evaluator unavailable: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "grading temporarily unavailable")
	case errors.Is(err, grading.ErrMalformedResponse):
		// distinct from unavailability: likely a prompt/schema regression
		log.Printf("malformed evaluator response: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "grading failed")
	default:
		log.Printf("internal error: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

var gradingCriteria = map[string]any{
	"criteria": []map[string]string{
		{
			"name":        "Fluency & Coherence",
			"key":         "fluency",
			"description": "Ability to speak smoothly without hesitation, with logical organization",
			"band_9":      "Speaks fluently with only rare repetition or self-correction",
		},
		{
			"name":        "Lexical Resource",
			"key":         "lexical",
			"description": "Range and accuracy of vocabulary used",
			"band_9":      "Uses vocabulary with full flexibility and precision in all topics",
		},
		{
			"name":        "Grammatical Range & Accuracy",
			"key":         "grammar",
			"description": "Variety and correctness of grammatical structures",
			"band_9":      "Uses a full range of structures naturally and appropriately",
		},
		{
			"name":        "Pronunciation",
			"key":         "pronunciation",
			"description": "Clarity and naturalness of speech",
			"band_9":      "Uses a full range of pronunciation features with precision",
		},
	},
	"band_scale": map[string]string{
		"9": "Expert",
		"8": "Very Good",
		"7": "Good",
		"6": "Competent",
		"5": "Modest",
		"4": "Limited",
		"3": "Extremely Limited",
	},
}
