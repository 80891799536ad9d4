package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber turns a narration file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type OpenAIService struct {
	client   *openai.Client
	language string
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client:   openai.NewClient(apiKey),
		language: "en",
	}
}

// Transcribe sends a voiceover to OpenAI Whisper and returns its text.
// Used for caption text when the voiceover carries no script.
func (s *OpenAIService) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open voiceover: %w", err)
	}
	defer f.Close()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   f,
		FilePath: filepath.Base(audioPath), // Filename hint for the API (required by the library)
		Format:   openai.AudioResponseFormatJSON,
		Language: s.language,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("whisper returned no text for %s", filepath.Base(audioPath))
	}

	log.Printf("[Whisper] Transcribed %s (text: %q)", filepath.Base(audioPath), truncateString(text, 80))
	return text, nil
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
