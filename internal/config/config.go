package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress     string        `env:"HTTP_ADDRESS" envDefault:":8080"`
	AssemblyAIKey   string        `env:"ASSEMBLYAI_API_KEY"`
	CerebrasKey     string        `env:"CEREBRAS_API_KEY"`
	CerebrasModelID string        `env:"CEREBRAS_MODEL_ID" envDefault:"gpt-oss-120b"`
	CerebrasBaseURL string        `env:"CEREBRAS_BASE_URL" envDefault:"https://api.cerebras.ai/v1"`
	ElevenLabsKey   string        `env:"ELEVENLABS_API_KEY"`
	DeepgramKey     string        `env:"DEEPGRAM_API_KEY"`
	TTSProvider     string        `env:"TTS_PROVIDER" envDefault:"elevenlabs"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"1h"`
}

// Load reads .env plus environment variables and returns Config with sane defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if cfg.CerebrasKey == "" {
		log.Println("Warning: CEREBRAS_API_KEY not set - grading will not work")
	}
	if cfg.TTSProvider == "elevenlabs" && cfg.ElevenLabsKey == "" {
		log.Println("Warning: ELEVENLABS_API_KEY not set - speech synthesis will not work")
	}
	if cfg.TTSProvider == "deepgram" && cfg.DeepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}

	log.Printf("config: HTTP_ADDRESS=%s TTS_PROVIDER=%s SESSION_TTL=%s", cfg.HTTPAddress, cfg.TTSProvider, cfg.SessionTTL)
	return cfg, nil
}
