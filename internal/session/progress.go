package session

import (
	"fmt"
	"os"
	"strings"
)

// Progress is the persisted download/upload state of spec.md §3/§6:
// "only Progress (optional resume file) - three decimal integers
// uploaded downloaded left. Absent file => fresh {0,0,totalLength}."
type Progress struct {
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
}

// LoadProgress reads a resume file written by SaveProgress. A missing
// file is not an error: it returns a fresh Progress with Left set to
// totalLength.
func LoadProgress(path string, totalLength uint64) (Progress, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Progress{Left: totalLength}, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("session: reading resume file: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) != 3 {
		return Progress{}, fmt.Errorf("session: resume file %q: expected 3 fields, got %d", path, len(fields))
	}

	var p Progress
	if _, err := fmt.Sscanf(fields[0], "%d", &p.Uploaded); err != nil {
		return Progress{}, fmt.Errorf("session: resume file %q: parsing uploaded: %w", path, err)
	}
	if _, err := fmt.Sscanf(fields[1], "%d", &p.Downloaded); err != nil {
		return Progress{}, fmt.Errorf("session: resume file %q: parsing downloaded: %w", path, err)
	}
	if _, err := fmt.Sscanf(fields[2], "%d", &p.Left); err != nil {
		return Progress{}, fmt.Errorf("session: resume file %q: parsing left: %w", path, err)
	}
	return p, nil
}

// SaveProgress writes p to path as "uploaded downloaded left".
func SaveProgress(path string, p Progress) error {
	line := fmt.Sprintf("%d %d %d\n", p.Uploaded, p.Downloaded, p.Left)
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("session: writing resume file: %w", err)
	}
	return nil
}
