package local

import (
	"fmt"
	"strconv"
	"strings"
)

// holder is the slot value a local execution registers:
// "<host>:<pid>:<run id>", pid 0 while the child is being spawned.
type holder struct {
	host  string
	pid   int
	runID string
}

func (h holder) String() string {
	return fmt.Sprintf("%s:%d:%s", h.host, h.pid, h.runID)
}

func parseHolder(s string) (holder, error) {
	last := strings.LastIndex(s, ":")
	if last < 0 {
		return holder{}, fmt.Errorf("malformed slot holder %q", s)
	}
	mid := strings.LastIndex(s[:last], ":")
	if mid < 0 {
		return holder{}, fmt.Errorf("malformed slot holder %q", s)
	}
	pid, err := strconv.Atoi(s[mid+1 : last])
	if err != nil || pid < 0 {
		return holder{}, fmt.Errorf("malformed slot holder %q", s)
	}
	return holder{host: s[:mid], pid: pid, runID: s[last+1:]}, nil
}
