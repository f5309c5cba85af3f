// Package depgraph derives a file-level import graph from stored code
// chunks. Only imports that resolve to another analyzed file become edges;
// external packages are ignored.
package depgraph

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

var (
	pyImportRe     = regexp.MustCompile(`(?m)^\s*import\s+([^\n#]+)`)
	pyFromImportRe = regexp.MustCompile(`(?m)^\s*from\s+([a-zA-Z0-9_\.]+)\s+import\s+`)
	jsImportRe     = regexp.MustCompile(`(?:import|export)\s+(?:[^'"]+?\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequireRe    = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
)

var jsExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// Node is one analyzed file.
type Node struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	FilePath string `json:"file_path"`
}

// Edge is one resolved import between two analyzed files.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// Stats summarizes the graph.
type Stats struct {
	FilesConsidered int `json:"files_considered"`
	EdgesDetected   int `json:"edges_detected"`
}

// Graph is the dependency graph payload.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

// FileChunk is the slice of chunk data the builder needs.
type FileChunk struct {
	FilePath string
	Content  string
}

func hasJSExtension(filePath string) bool {
	for _, ext := range jsExtensions {
		if strings.HasSuffix(filePath, ext) {
			return true
		}
	}
	return false
}

func resolvePythonImport(sourceFile, importedModule string, files map[string]struct{}) string {
	candidate := strings.ReplaceAll(strings.Trim(importedModule, "."), ".", "/")
	if candidate == "" {
		return ""
	}

	candidateFile := candidate + ".py"
	if _, ok := files[candidateFile]; ok {
		return candidateFile
	}

	packageInit := candidate + "/__init__.py"
	if _, ok := files[packageInit]; ok {
		return packageInit
	}

	if sourceDir := path.Dir(sourceFile); sourceDir != "." {
		local := path.Clean(path.Join(sourceDir, candidateFile))
		if _, ok := files[local]; ok {
			return local
		}
	}
	return ""
}

func resolveJSImport(sourceFile, importedRef string, files map[string]struct{}) string {
	if !strings.HasPrefix(importedRef, ".") {
		return ""
	}

	basePath := path.Clean(path.Join(path.Dir(sourceFile), importedRef))
	var candidates []string
	if hasJSExtension(basePath) {
		candidates = append(candidates, basePath)
	} else {
		for _, ext := range jsExtensions {
			candidates = append(candidates, basePath+ext)
			candidates = append(candidates, path.Join(basePath, "index"+ext))
		}
	}

	for _, candidate := range candidates {
		if _, ok := files[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// Build assembles the graph from a repository's chunks. Nodes and edges are
// sorted so the output is stable across runs.
func Build(chunks []FileChunk) *Graph {
	fileContent := map[string][]string{}
	for _, chunk := range chunks {
		filePath := strings.ReplaceAll(chunk.FilePath, "\\", "/")
		if filePath == "" || chunk.Content == "" {
			continue
		}
		fileContent[filePath] = append(fileContent[filePath], chunk.Content)
	}

	files := make(map[string]struct{}, len(fileContent))
	paths := make([]string, 0, len(fileContent))
	for filePath := range fileContent {
		files[filePath] = struct{}{}
		paths = append(paths, filePath)
	}
	sort.Strings(paths)

	nodes := make([]Node, 0, len(paths))
	for _, filePath := range paths {
		nodes = append(nodes, Node{ID: filePath, Label: path.Base(filePath), FilePath: filePath})
	}

	type edgeKey struct{ src, dst, kind string }
	edgeSet := map[edgeKey]struct{}{}

	addEdge := func(src, dst, kind string) {
		if dst != "" && dst != src {
			edgeSet[edgeKey{src, dst, kind}] = struct{}{}
		}
	}

	for filePath, contents := range fileContent {
		merged := strings.Join(contents, "\n")

		if strings.HasSuffix(filePath, ".py") {
			for _, match := range pyImportRe.FindAllStringSubmatch(merged, -1) {
				for _, module := range strings.Split(match[1], ",") {
					module = strings.TrimSpace(module)
					if module == "" {
						continue
					}
					if idx := strings.Index(module, " as "); idx >= 0 {
						module = strings.TrimSpace(module[:idx])
					}
					addEdge(filePath, resolvePythonImport(filePath, module, files), "python")
				}
			}
			for _, match := range pyFromImportRe.FindAllStringSubmatch(merged, -1) {
				addEdge(filePath, resolvePythonImport(filePath, match[1], files), "python")
			}
		}

		if hasJSExtension(filePath) {
			var refs []string
			for _, match := range jsImportRe.FindAllStringSubmatch(merged, -1) {
				refs = append(refs, match[1])
			}
			for _, match := range jsRequireRe.FindAllStringSubmatch(merged, -1) {
				refs = append(refs, match[1])
			}
			for _, ref := range refs {
				addEdge(filePath, resolveJSImport(filePath, ref, files), "javascript")
			}
		}
	}

	keys := make([]edgeKey, 0, len(edgeSet))
	for key := range edgeSet {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		if keys[i].dst != keys[j].dst {
			return keys[i].dst < keys[j].dst
		}
		return keys[i].kind < keys[j].kind
	})

	edges := make([]Edge, 0, len(keys))
	for _, key := range keys {
		edges = append(edges, Edge{
			ID:     key.src + "->" + key.dst,
			Source: key.src,
			Target: key.dst,
			Kind:   key.kind,
		})
	}

	return &Graph{
		Nodes: nodes,
		Edges: edges,
		Stats: Stats{FilesConsidered: len(nodes), EdgesDetected: len(edges)},
	}
}
