package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const historyLimit = liner.HistoryLimit

// History persists REPL input across sessions. liner owns arrow-key recall;
// entries mirrors it for the history command.
type History struct {
	line    *liner.State
	path    string
	entries []string
}

// openHistory loads ~/.shale_history into line. A missing file is not an
// error.
func openHistory(line *liner.State) (*History, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	h := &History{line: line, path: filepath.Join(home, ".shale_history")}

	data, err := os.ReadFile(h.path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := line.ReadHistory(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	for _, cmd := range strings.Split(string(data), "\n") {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			h.entries = append(h.entries, cmd)
		}
	}
	h.trim()
	return h, nil
}

func (h *History) add(cmd string) {
	if n := len(h.entries); n > 0 && h.entries[n-1] == cmd {
		return
	}
	h.line.AppendHistory(cmd)
	h.entries = append(h.entries, cmd)
	h.trim()
}

func (h *History) trim() {
	if len(h.entries) > historyLimit {
		h.entries = h.entries[len(h.entries)-historyLimit:]
	}
}

// save writes the history through a temp file so a crash never leaves it
// half written.
func (h *History) save() error {
	tmp := h.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := h.line.WriteHistory(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, h.path)
}

// last returns the n most recent commands, or all of them when n <= 0.
func (h *History) last(n int) []string {
	if n <= 0 || n > len(h.entries) {
		return h.entries
	}
	return h.entries[len(h.entries)-n:]
}
