package models

// CodeChunk is one embeddable unit produced by the splitter.
type CodeChunk struct {
	FilePath     string    `json:"file_path"`
	Language     string    `json:"language"`
	Symbol       string    `json:"symbol,omitempty"`
	ParentSymbol string    `json:"parent_symbol,omitempty"`
	BlockType    string    `json:"block_type,omitempty"`
	StartLine    int       `json:"start_line"`
	EndLine      int       `json:"end_line"`
	TokenCount   int       `json:"token_count"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"-"`
}

// ChunkingStats summarizes one chunking run over a repository.
type ChunkingStats struct {
	TotalFiles   int `json:"total_files"`
	TotalChunks  int `json:"total_chunks"`
	TotalTokens  int `json:"total_tokens"`
	SkippedFiles int `json:"skipped_files"`
}

// RepoFile is a single file fetched from a repository.
type RepoFile struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Content string `json:"content,omitempty"`
}
