package whisper

import "context"

// LanguageAuto asks the engine to detect the spoken language.
const LanguageAuto = "auto"

type TranscriptionRequest struct {
	AudioPath string
	ModelPath string
	Language  string
}

// Transcription is the raw engine output. Language is empty when the engine
// did not report one.
type Transcription struct {
	Text     string
	Language string
}

type Engine interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (Transcription, error)
}
