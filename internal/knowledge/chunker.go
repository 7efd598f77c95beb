package knowledge

import (
	"bufio"
	"strings"
)

// ChunkText splits text into overlapping chunks of roughly ChunkSize
// characters, preferring paragraph boundaries over hard cuts. Overlap keeps
// the tail of each chunk visible at the start of the next so entities
// spanning a boundary are not lost.
func ChunkText(text string, opts ChunkOptions) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if opts.ChunkSize <= 0 {
		return []Chunk{{Index: 0, Text: strings.TrimSpace(text)}}
	}

	paragraphs := splitIntoParagraphs(text)

	var (
		chunks  []Chunk
		current strings.Builder
	)

	flush := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed == "" {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: trimmed})

		if opts.ChunkOverlap > 0 && len(trimmed) > opts.ChunkOverlap {
			tail := trimmed[len(trimmed)-opts.ChunkOverlap:]
			current.Reset()
			current.WriteString(tail)
			current.WriteString("\n\n")
		} else {
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		// A single oversized paragraph is cut hard.
		if len(para) > opts.ChunkSize {
			flush()
			for start := 0; start < len(para); start += opts.ChunkSize {
				end := min(len(para), start+opts.ChunkSize)
				chunks = append(chunks, Chunk{Index: len(chunks), Text: para[start:end]})
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(para) > opts.ChunkSize {
			flush()
		}

		current.WriteString(para)
		current.WriteString("\n\n")
	}

	flush()
	return chunks
}

// splitIntoParagraphs splits text on blank lines, joining wrapped lines
// within a paragraph with single spaces.
func splitIntoParagraphs(text string) []string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		paragraphs  []string
		currentPara strings.Builder
	)

	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			if currentPara.Len() > 0 {
				paragraphs = append(paragraphs, currentPara.String())
				currentPara.Reset()
			}
			continue
		}

		if currentPara.Len() > 0 {
			currentPara.WriteString(" ")
		}
		currentPara.WriteString(line)
	}

	if currentPara.Len() > 0 {
		paragraphs = append(paragraphs, currentPara.String())
	}

	return paragraphs
}
