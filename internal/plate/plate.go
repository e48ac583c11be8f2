// Package plate wraps the external OCR capability and applies the
// confidence filtering and normalization the raw engine does not do.
package plate

import (
	"context"
	"image"
	"strings"
	"unicode"
)

const (
	// NotRead is the candidate recorded when no token survives filtering.
	NotRead = "Not Read"
	// NotDetected marks a track whose plate region was never seen.
	NotDetected = "Not Detected"
)

// Token is one recognized text fragment with its OCR confidence.
type Token struct {
	Text       string
	Confidence float64
}

// Reader is the boundary to the OCR engine: given a plate-region crop,
// it returns the recognized tokens with per-token confidence.
type Reader interface {
	Read(ctx context.Context, region image.Image) ([]Token, error)
}

// Fuse filters tokens below minConfidence, joins and normalizes the
// survivors, and reports the mean confidence of what was kept. With no
// surviving token it returns NotRead and zero confidence.
func Fuse(tokens []Token, minConfidence float64) (string, float64) {
	var b strings.Builder
	var sum float64
	kept := 0
	for _, t := range tokens {
		if t.Confidence < minConfidence {
			continue
		}
		b.WriteString(t.Text)
		sum += t.Confidence
		kept++
	}
	text := Normalize(b.String())
	if text == "" || kept == 0 {
		return NotRead, 0
	}
	return text, sum / float64(kept)
}

// Normalize uppercases a raw plate reading and strips whitespace and
// punctuation the OCR engine tends to hallucinate around characters.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// QueueReader replays pre-recorded token sets in call order. It backs
// the replay pipeline and tests, where OCR output is part of the
// recording rather than computed from pixels.
type QueueReader struct {
	queue [][]Token
}

func NewQueueReader(reads ...[]Token) *QueueReader {
	return &QueueReader{queue: reads}
}

func (q *QueueReader) Read(context.Context, image.Image) ([]Token, error) {
	if len(q.queue) == 0 {
		return nil, nil
	}
	head := q.queue[0]
	q.queue = q.queue[1:]
	return head, nil
}
