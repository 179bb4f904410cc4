package logging

import (
	"bufio"
	"os"
)

// TailLines returns up to the last n lines of the file at path.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// errors.log is truncated on every start, so a full scan stays cheap.
	ring := make([]string, 0, n)
	next := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		if len(ring) < n {
			ring = append(ring, s.Text())
			continue
		}
		ring[next] = s.Text()
		next = (next + 1) % n
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return append(ring[next:], ring[:next]...), nil
}
