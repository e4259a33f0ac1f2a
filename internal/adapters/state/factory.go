package state

import (
	"path/filepath"
	"strings"
)

// Stores bundles the persistence used by the CLI and the admin server.
type Stores struct {
	Loop    *LoopFile
	History *TaskHistory
}

// Open creates the loop state file store and the task history database.
// An empty historyPath disables history.
func Open(loopPath, historyPath string) (*Stores, error) {
	s := &Stores{Loop: NewLoopFile(loopPath)}
	if strings.TrimSpace(historyPath) == "" {
		return s, nil
	}
	if !strings.HasSuffix(historyPath, ".db") {
		historyPath = strings.TrimSuffix(historyPath, filepath.Ext(historyPath)) + ".db"
	}
	h, err := NewTaskHistory(historyPath)
	if err != nil {
		return nil, err
	}
	s.History = h
	return s, nil
}

// Close releases the history database, if open.
func (s *Stores) Close() error {
	if s == nil || s.History == nil {
		return nil
	}
	return s.History.Close()
}
