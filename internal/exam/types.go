package exam

import "context"

// Transcriber converts a finite audio clip to text. Implementations validate
// encoding and size before any network call.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Synthesizer renders prompt text with the given engine voice code and
// returns the finished clip bytes plus their MIME type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceCode string) ([]byte, string, error)
}
