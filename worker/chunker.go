package worker

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Directories that never contain indexable sources.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

// Extensions the parser indexes.
var allowedExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".go": true, ".java": true, ".cpp": true, ".c": true, ".h": true,
	".hpp": true, ".rs": true, ".php": true, ".rb": true, ".cs": true,
}

// CollectSourceFiles walks a checkout and returns the relative paths of all
// indexable files, with forward slashes regardless of platform.
func CollectSourceFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

// LanguageForPath derives the chunk language tag from the file extension.
func LanguageForPath(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Chunk is one line window of a source file. Lines are 1-based inclusive.
type Chunk struct {
	StartLine int
	EndLine   int
	Content   string
}

// ChunkLines slices a file into overlapping line windows. The final window
// may be shorter; consecutive windows share overlapLines lines.
func ChunkLines(content string, chunkLines, overlapLines int) ([]Chunk, error) {
	if chunkLines <= overlapLines {
		return nil, stageErr("INVALID_CHUNK_CONFIG", "Chunk size must be greater than overlap size")
	}

	lines := splitLines(content)
	if len(lines) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, Chunk{
			StartLine: start + 1,
			EndLine:   end,
			Content:   strings.Join(lines[start:end], "\n"),
		})
		if end == len(lines) {
			break
		}
		start = end - overlapLines
	}
	return chunks, nil
}

// splitLines matches the usual splitlines behavior: a trailing newline does
// not produce an empty final line, and an empty file yields no lines.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = strings.TrimSuffix(normalized, "\n")
	if normalized == "" {
		return []string{""}
	}
	return strings.Split(normalized, "\n")
}
