package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
)

const (
	defaultLogLines = 500
	maxLogLines     = 5000
)

type LogsHandler struct {
	logFile string // path to the server log file
}

func NewLogsHandler(logFile string) *LogsHandler {
	return &LogsHandler{logFile: logFile}
}

// GetLogs handles GET /api/admin/logs?lines=N and returns the tail of the
// server log so the dashboard can show recent activity.
func (h *LogsHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, "lines must be a positive integer", http.StatusBadRequest)
			return
		}
		lines = n
	}
	if lines > maxLogLines {
		lines = maxLogLines
	}

	if h.logFile == "" {
		jsonError(w, "No log file configured", http.StatusNotFound)
		return
	}

	file, err := os.Open(h.logFile)
	if err != nil {
		jsonError(w, "Failed to open log file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	tail, err := readLastNLines(file, lines)
	if err != nil {
		jsonError(w, "Failed to read log file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if tail == nil {
		tail = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"lines": tail,
		"count": len(tail),
	})
}

// readLastNLines reads the tail of a file in chunks from the end so large log
// files are never loaded whole.
func readLastNLines(file *os.File, n int) ([]string, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return nil, nil
	}

	// Read file in chunks from the end
	const chunkSize = 64 * 1024
	var lines []string
	var leftover []byte

	position := stat.Size()

	for position > 0 && len(lines) < n {
		readSize := int64(chunkSize)
		if position < readSize {
			readSize = position
		}
		position -= readSize

		chunk := make([]byte, readSize)
		_, err := file.ReadAt(chunk, position)
		if err != nil && err != io.EOF {
			return nil, err
		}

		// Prepend any leftover from previous iteration
		chunk = append(chunk, leftover...)

		// Split into lines
		chunkLines := bytes.Split(chunk, []byte("\n"))

		// The first element might be a partial line
		leftover = chunkLines[0]

		// Add complete lines in reverse order
		for i := len(chunkLines) - 1; i > 0; i-- {
			line := string(bytes.TrimRight(chunkLines[i], "\r"))
			if line != "" || i == len(chunkLines)-1 {
				lines = append([]string{line}, lines...)
			}
			if len(lines) >= n {
				break
			}
		}
	}

	// Add any remaining leftover as the first line
	if len(leftover) > 0 && len(lines) < n {
		lines = append([]string{string(leftover)}, lines...)
	}

	// Trim to exactly n lines
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return lines, nil
}
