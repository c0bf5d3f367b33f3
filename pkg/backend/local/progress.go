package local

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// parseProgress returns the last progress report found in a run log.
//
// Simulation wrappers report progress by printing lines such as:
//
//	PROGRESS percent=42.5 frames=17
//
// Either field may be omitted. ok is false when the log has no such line.
func parseProgress(log []byte) (percent *float64, frames *int, ok bool) {
	sc := bufio.NewScanner(bytes.NewReader(log))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "PROGRESS" {
			continue
		}
		var (
			p     *float64
			f     *int
			found bool
		)
		for _, kv := range fields[1:] {
			k, v, cut := strings.Cut(kv, "=")
			if !cut {
				continue
			}
			switch k {
			case "percent":
				if x, err := strconv.ParseFloat(v, 64); err == nil && x >= 0 {
					p, found = &x, true
				}
			case "frames":
				if n, err := strconv.Atoi(v); err == nil && n >= 0 {
					f, found = &n, true
				}
			}
		}
		if found {
			percent, frames, ok = p, f, true
		}
	}
	return percent, frames, ok
}
