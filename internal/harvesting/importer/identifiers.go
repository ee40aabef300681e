package importer

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// ReadIdentifiers reads a newline separated identifier list. Blank lines and
// lines starting with '#' are skipped; duplicates keep their first position.
func ReadIdentifiers(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identifier list: %w", err)
	}
	defer f.Close()

	var (
		ids  []string
		seen = make(map[string]struct{})
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read identifier list: %w", err)
	}
	return ids, nil
}
