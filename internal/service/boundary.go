package service

import (
	"math"
	"sort"
	"strings"
)

// sentenceWindow is a per-run structure pairing a sentence with its combined
// context window and, once embedded, the distance to the next window.
type sentenceWindow struct {
	sentence  string
	combined  string
	embedding []float32
}

// buildWindows builds a context window for each sentence: the sentence plus
// bufferSize neighbors on each side, clipped to the sequence bounds. The
// combined text is what gets embedded; it gives the model topical context
// beyond a single sentence.
func buildWindows(sentences []string, bufferSize int) []sentenceWindow {
	if bufferSize < 0 {
		bufferSize = 0
	}

	windows := make([]sentenceWindow, len(sentences))
	for i, sentence := range sentences {
		lo := i - bufferSize
		if lo < 0 {
			lo = 0
		}
		hi := i + bufferSize
		if hi > len(sentences)-1 {
			hi = len(sentences) - 1
		}

		windows[i] = sentenceWindow{
			sentence: sentence,
			combined: strings.Join(sentences[lo:hi+1], " "),
		}
	}

	return windows
}

// cosineSimilarity returns the cosine of the angle between two vectors.
// A zero-norm vector yields similarity 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// percentile computes the q-th quantile of values by linear interpolation
// between order statistics.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// detectBoundaries computes cosine distances between consecutive window
// embeddings and flags transitions whose distance strictly exceeds the
// percentile-derived threshold.
func detectBoundaries(windows []sentenceWindow, breakpointPercentile float64) (distances []float64, boundaries []int) {
	if len(windows) < 2 {
		return nil, nil
	}

	distances = make([]float64, len(windows)-1)
	for i := 0; i < len(windows)-1; i++ {
		distances[i] = cosineDistance(windows[i].embedding, windows[i+1].embedding)
	}

	threshold := percentile(distances, breakpointPercentile)
	for i, d := range distances {
		if d > threshold {
			boundaries = append(boundaries, i)
		}
	}

	return distances, boundaries
}

// groupChunks partitions the original sentence sequence at the flagged
// boundaries. Each run's sentences are joined with a single space; the final
// run always extends to the last sentence.
func groupChunks(sentences []string, boundaries []int) []string {
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]string, 0, len(boundaries)+1)
	start := 0
	for _, b := range boundaries {
		if b < start || b >= len(sentences)-1 {
			continue
		}
		chunks = append(chunks, strings.Join(sentences[start:b+1], " "))
		start = b + 1
	}
	chunks = append(chunks, strings.Join(sentences[start:], " "))

	return chunks
}
