package parser

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadWordlist reads one value per line from a file, skipping blank lines
// and # comments.
func LoadWordlist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	defer file.Close()

	var values []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			values = append(values, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("%w: wordlist %s is empty", ErrInvalidRequest, path)
	}
	return values, nil
}
