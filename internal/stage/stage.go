package stage

import (
	"context"

	"github.com/voice2action/voice2action/internal/types"
)

// Transcriber turns an audio file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, path, filename string) (string, error)
}

// Analyzer turns a transcript into a structured meeting analysis.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, analysisType string) (*types.Analysis, error)
}
