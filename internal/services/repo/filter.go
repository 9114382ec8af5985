package repo

import (
	"path"
	"strings"

	"github.com/ternarybob/codewiki/internal/models"
)

// maxReadableFileBytes bounds file reads; anything larger is treated as
// generated or vendored content.
const maxReadableFileBytes = 1024 * 1024

// defaultExcludedDirs are skipped unless the job overrides filters.
var defaultExcludedDirs = []string{
	".git", ".svn", ".hg", ".idea", ".vscode",
	"node_modules", "bower_components", "vendor",
	"dist", "build", "out", "target", "bin", "obj",
	"__pycache__", ".venv", "venv", ".tox", ".pytest_cache",
	"coverage", ".next", ".nuxt",
}

// binaryExtensions are never fetched or chunked.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".webp": true, ".bmp": true, ".tiff": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".7z": true, ".rar": true, ".jar": true, ".war": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".class": true, ".pyc": true, ".wasm": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true,
	".db": true, ".sqlite": true, ".bin": true, ".dat": true,
	".lock": true, ".min.js": true, ".min.css": true,
}

// fileFilter applies a job's include/exclude lists on top of the
// defaults. Include lists, when present, win over exclude lists.
type fileFilter struct {
	excludedDirs  []string
	excludedFiles map[string]bool
	includedDirs  []string
	includedFiles map[string]bool
}

func newFileFilter(job *models.WikiJob) *fileFilter {
	f := &fileFilter{
		excludedFiles: make(map[string]bool),
		includedFiles: make(map[string]bool),
	}
	f.excludedDirs = append(f.excludedDirs, defaultExcludedDirs...)
	for _, dir := range job.ExcludedDirs {
		f.excludedDirs = append(f.excludedDirs, strings.Trim(dir, "/"))
	}
	for _, name := range job.ExcludedFiles {
		f.excludedFiles[name] = true
	}
	for _, dir := range job.IncludedDirs {
		f.includedDirs = append(f.includedDirs, strings.Trim(dir, "/"))
	}
	for _, name := range job.IncludedFiles {
		f.includedFiles[name] = true
	}
	return f
}

// Keep decides whether a repository-relative path survives filtering.
func (f *fileFilter) Keep(filePath string) bool {
	filePath = strings.TrimPrefix(filePath, "./")
	base := path.Base(filePath)

	if isBinaryPath(filePath) {
		return false
	}

	// Include lists restrict the walk to their subtrees and names.
	if len(f.includedDirs) > 0 || len(f.includedFiles) > 0 {
		if f.includedFiles[base] {
			return true
		}
		for _, dir := range f.includedDirs {
			if filePath == dir || strings.HasPrefix(filePath, dir+"/") {
				return true
			}
		}
		return false
	}

	if f.excludedFiles[base] {
		return false
	}
	for _, segment := range strings.Split(path.Dir(filePath), "/") {
		for _, dir := range f.excludedDirs {
			if segment == dir {
				return false
			}
		}
	}
	return true
}

func isBinaryPath(filePath string) bool {
	lower := strings.ToLower(filePath)
	if strings.HasSuffix(lower, ".min.js") || strings.HasSuffix(lower, ".min.css") {
		return true
	}
	return binaryExtensions[path.Ext(lower)]
}

// looksBinary sniffs content for NUL bytes, the classic text heuristic.
func looksBinary(content []byte) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range content[:limit] {
		if b == 0 {
			return true
		}
	}
	return false
}
