package artifacts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// maxRecordLine bounds a single session log line.
const maxRecordLine = 1 << 20

// ReadSessionLog decodes the records of a session log.
func ReadSessionLog(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxRecordLine)

	var out []Record
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return out, fmt.Errorf("artifacts: session log line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("artifacts: read session log: %w", err)
	}
	return out, nil
}
