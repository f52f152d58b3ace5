package transcripts

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"google.golang.org/genai"
)

// Transcription is the text produced from one recording.
type Transcription struct {
	Text       string
	Confidence *float64
}

// Transcriber turns recording audio into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcription, error)
}

var sampleTranscripts = []string{
	"Hello, this is a test call from the Robo Calling AI Agent. Thank you for your time. Goodbye.",
	"Hi there, I'm calling to test the automated calling system. This call is being recorded for quality purposes. Have a great day!",
	"Good day, this is an automated test call. The system is working properly. Thank you for answering.",
	"Hello, you have received a test call from our automated system. Everything appears to be functioning correctly. Goodbye.",
	"Hi, this is a demonstration call from the Robo Calling Agent. The call has been completed successfully.",
}

// SimulatedTranscriber returns one of a fixed set of sample texts, picked by
// hashing the audio, so the same recording always yields the same text.
type SimulatedTranscriber struct{}

func (SimulatedTranscriber) Name() string { return "simulated" }

func (SimulatedTranscriber) Transcribe(ctx context.Context, audio []byte, _ string) (Transcription, error) {
	if err := ctx.Err(); err != nil {
		return Transcription{}, err
	}
	h := fnv.New32a()
	_, _ = h.Write(audio)
	conf := 0.85
	return Transcription{Text: sampleTranscripts[int(h.Sum32()%uint32(len(sampleTranscripts)))], Confidence: &conf}, nil
}

const DefaultGeminiModel = "gemini-2.0-flash"

const geminiPrompt = "Transcribe this phone call recording verbatim. Reply with the transcript text only."

// GeminiTranscriber sends the audio inline to a Gemini model.
// Gemini reports no confidence, so Confidence stays nil.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

func NewGeminiTranscriber(ctx context.Context, apiKey, model string) (*GeminiTranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("transcripts: gemini api key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("transcripts: create gemini client: %w", err)
	}
	return &GeminiTranscriber{client: client, model: model}, nil
}

func (g *GeminiTranscriber) Name() string { return "gemini" }

func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcription, error) {
	if len(audio) == 0 {
		return Transcription{}, errors.New("transcripts: empty recording")
	}
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(geminiPrompt),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcripts: gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Transcription{}, errors.New("transcripts: gemini returned no text")
	}
	return Transcription{Text: text}, nil
}
