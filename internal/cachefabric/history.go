package cachefabric

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gogotex/texfabric/pkg/logger"
)

// Record is one compile or format-generation attempt's metadata, persisted
// as a single JSON file per request for offline inspection. Field set is
// adapted from the retrieved octree-compile example's compileMetadata.
type Record struct {
	RequestID   string    `json:"requestId"`
	Kind        string    `json:"kind"` // "compile" or "format"
	Engine      string    `json:"engine"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	CompletedAt time.Time `json:"completedAt"`
	QueueMs     int64     `json:"queueMs"`
	DurationMs  int64     `json:"durationMs"`
	Status      string    `json:"status"` // "success", "failed", "error"
	ExitCode    int       `json:"exitCode,omitempty"`
	Retries     int       `json:"retries,omitempty"`
	PDFSize     int       `json:"pdfSize,omitempty"`
	SHA256      string    `json:"sha256,omitempty"`
	LogTail     string    `json:"logTail,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// History persists compile attempt records to a directory, one JSON file
// per request ID. A zero-value History (empty Dir) is a no-op, matching
// the teacher example's "historyDir == \"\" disables persistence" check.
type History struct {
	Dir string
}

// NewHistory builds a History rooted at dir. dir may be empty to disable
// persistence entirely.
func NewHistory(dir string) *History {
	return &History{Dir: dir}
}

const maxLogTailChars = 4000

// Write persists rec as "<RequestID>.json" under the history directory.
// Failures are logged, not returned, since a history-write failure must
// never fail the compile request itself.
func (h *History) Write(rec Record) {
	if h == nil || h.Dir == "" {
		return
	}
	if len(rec.LogTail) > maxLogTailChars {
		rec.LogTail = rec.LogTail[len(rec.LogTail)-maxLogTailChars:]
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		logger.Warnf("history: marshal %s: %v", rec.RequestID, err)
		return
	}

	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		logger.Warnf("history: mkdir %s: %v", h.Dir, err)
		return
	}

	path := filepath.Join(h.Dir, fmt.Sprintf("%s.json", rec.RequestID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warnf("history: write %s: %v", path, err)
	}
}
