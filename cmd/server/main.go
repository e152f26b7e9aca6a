package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/speaking-exam/internal/config"
	"github.com/chadiek/speaking-exam/internal/exam"
	"github.com/chadiek/speaking-exam/internal/grading"
	"github.com/chadiek/speaking-exam/internal/httpserver"
	"github.com/chadiek/speaking-exam/internal/llm"
	"github.com/chadiek/speaking-exam/internal/transcript"
	"github.com/chadiek/speaking-exam/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	sessions := exam.NewManager(exam.DefaultQuestions(), exam.DefaultVoices(), cfg.SessionTTL)
	defer sessions.Close()

	transcriber := transcript.NewAssemblyAIClient(cfg.AssemblyAIKey)

	var synthesizer exam.Synthesizer
	switch cfg.TTSProvider {
	case "deepgram":
		synthesizer = tts.NewDeepgramClient(cfg.DeepgramKey, "")
	default:
		synthesizer = tts.NewElevenLabsClient(cfg.ElevenLabsKey)
	}

	evaluator := llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID, cfg.CerebrasBaseURL)
	grader := grading.NewOrchestrator(evaluator, sessions)

	srv := httpserver.New(sessions, transcriber, synthesizer, grader)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
