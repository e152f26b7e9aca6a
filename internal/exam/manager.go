package exam

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrOutOfRange indicates a question access past session completion or an
	// unknown question id.
	ErrOutOfRange = errors.New("question out of range")
)

// Status is the session lifecycle state. Completed is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Answer is an accepted transcript for one question. Immutable once stored.
type Answer struct {
	QuestionID int
	Transcript string
	WordCount  int
}

// QAPair is one question/answer pairing handed to the grading layer.
type QAPair struct {
	QuestionID   int    `json:"question_id"`
	QuestionText string `json:"question_text"`
	Transcript   string `json:"transcript"`
}

// Info is a read-only progress projection of a session.
type Info struct {
	SessionID        string `json:"session_id"`
	CurrentQuestion  int    `json:"current_question"`
	TotalQuestions   int    `json:"total_questions"`
	AnswersCompleted int    `json:"answers_completed"`
	Voice            string `json:"voice"`
	CreatedAt        string `json:"created_at"`
	Status           Status `json:"status"`
}

// StartedSession is the payload returned when a new session begins.
type StartedSession struct {
	ID        string
	Questions []Question
	Voice     VoiceProfile
	Voices    []VoiceProfile
}

type session struct {
	mu        sync.Mutex
	id        string
	voice     VoiceProfile
	cursor    int
	answers   []Answer
	status    Status
	createdAt time.Time
	// first successful grading result, cached so re-submission is idempotent
	gradeResult any
}

// Manager owns the session table. Each session carries its own mutex so
// operations on distinct sessions proceed in parallel.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	questions []Question
	voices    []VoiceProfile
	ttl       time.Duration

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager builds a Manager over a fixed question catalog and voice set.
// A ttl > 0 starts a janitor that evicts sessions older than ttl.
func NewManager(questions []Question, voices []VoiceProfile, ttl time.Duration) *Manager {
	m := &Manager{
		sessions:  make(map[string]*session),
		questions: questions,
		voices:    voices,
		ttl:       ttl,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	if ttl > 0 {
		go m.janitor()
	}
	return m
}

// Close stops the eviction janitor. Safe to call more than once.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Questions returns the catalog shared by all sessions.
func (m *Manager) Questions() []Question { return m.questions }

// Voices returns the enumerated voice catalog.
func (m *Manager) Voices() []VoiceProfile { return m.voices }

// TotalQuestions returns the catalog size.
func (m *Manager) TotalQuestions() int { return len(m.questions) }

// ResolveVoice maps a voice preference to a profile. Unknown preferences fall
// back to the default profile rather than failing.
func (m *Manager) ResolveVoice(selector string) VoiceProfile {
	selector = strings.ToLower(strings.TrimSpace(selector))
	var fallback VoiceProfile
	for _, v := range m.voices {
		if v.ID == selector {
			return v
		}
		if v.ID == DefaultVoiceID {
			fallback = v
		}
	}
	if fallback.ID == "" && len(m.voices) > 0 {
		fallback = m.voices[0]
	}
	return fallback
}

// Start allocates a new active session with a fresh unique id.
func (m *Manager) Start(voiceSelector string) StartedSession {
	s := &session{
		id:        uuid.NewString(),
		voice:     m.ResolveVoice(voiceSelector),
		status:    StatusActive,
		createdAt: m.now(),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return StartedSession{ID: s.id, Questions: m.questions, Voice: s.voice, Voices: m.voices}
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// CurrentQuestion returns the question at the session cursor.
func (m *Manager) CurrentQuestion(id string) (Question, error) {
	s, err := m.get(id)
	if err != nil {
		return Question{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusCompleted || s.cursor >= len(m.questions) {
		return Question{}, ErrOutOfRange
	}
	return m.questions[s.cursor], nil
}

// AcceptAnswer gates the transcript through ValidateTranscript and, on
// success, stores it at the question's slot. Answering the question at the
// cursor advances the cursor; answering an earlier question replaces its
// stored answer without advancing. Acceptance is all-or-nothing: a rejected
// transcript leaves the session untouched.
func (m *Manager) AcceptAnswer(id string, questionID int, transcript string) (Verdict, error) {
	s, err := m.get(id)
	if err != nil {
		return Verdict{}, err
	}

	idx := -1
	for i, q := range m.questions {
		if q.ID == questionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Verdict{}, fmt.Errorf("%w: unknown question %d", ErrOutOfRange, questionID)
	}

	v := ValidateTranscript(transcript)
	if !v.OK {
		return v, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusCompleted {
		return Verdict{}, fmt.Errorf("%w: session already completed", ErrOutOfRange)
	}
	if idx > s.cursor {
		return Verdict{}, fmt.Errorf("%w: question %d not reached yet", ErrOutOfRange, questionID)
	}

	ans := Answer{QuestionID: questionID, Transcript: strings.TrimSpace(transcript), WordCount: v.WordCount}
	if idx < len(s.answers) {
		s.answers[idx] = ans
	} else {
		s.answers = append(s.answers, ans)
	}
	if idx == s.cursor {
		s.cursor++
		if s.cursor == len(m.questions) {
			s.status = StatusCompleted
		}
	}
	return v, nil
}

// Info returns the read-only progress projection for a session.
func (m *Manager) Info(id string) (Info, error) {
	s, err := m.get(id)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:        s.id,
		CurrentQuestion:  s.cursor,
		TotalQuestions:   len(m.questions),
		AnswersCompleted: len(s.answers),
		Voice:            s.voice.Voice,
		CreatedAt:        s.createdAt.Format(time.RFC3339),
		Status:           s.status,
	}, nil
}

// Answers snapshots the accepted question/answer pairs in catalog order.
func (m *Manager) Answers(id string) ([]QAPair, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := make([]QAPair, 0, len(s.answers))
	for i, a := range s.answers {
		pairs = append(pairs, QAPair{
			QuestionID:   a.QuestionID,
			QuestionText: m.questions[i].Text,
			Transcript:   a.Transcript,
		})
	}
	return pairs, nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// SetGradeResult caches the first grading result for a session.
func (m *Manager) SetGradeResult(id string, result any) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.gradeResult == nil {
		s.gradeResult = result
	}
	s.mu.Unlock()
	return nil
}

// GradeResult returns the cached grading result, if any.
func (m *Manager) GradeResult(id string) (any, bool) {
	s, err := m.get(id)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gradeResult, s.gradeResult != nil
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Manager) evictExpired() {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.createdAt.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
}
