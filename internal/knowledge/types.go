package knowledge

import "time"

// Chunk is one piece of a split document.
type Chunk struct {
	Index int    // position within the document
	Text  string // chunk content
}

// ChunkOptions controls how documents are split.
type ChunkOptions struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int

	// ChunkOverlap is how many trailing characters of one chunk are
	// repeated at the start of the next.
	ChunkOverlap int
}

// ExtractedEntity is one entity the model found in a chunk.
type ExtractedEntity struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ExtractedRelationship is one relationship the model found in a chunk.
// Source and Target are entity names, resolved to IDs during ingestion.
type ExtractedRelationship struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Kind   string  `json:"kind"`
	Weight float64 `json:"weight,omitempty"`
}

// Extraction is the structured output of one extraction call.
type Extraction struct {
	Entities      []ExtractedEntity      `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Source        string        // file path or caller-supplied label
	Chunks        int           // chunks produced from the document
	Entities      int           // entities written (created or updated)
	Relationships int           // relationships written
	Indexed       int           // embeddings written to the similarity index
	Errors        []string      // per-chunk soft failures; the run continues
	Duration      time.Duration // wall time of the run
}
