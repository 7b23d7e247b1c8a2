package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// localFile is the dotenv style file consulted when Secret Manager cannot be reached.
// It is read once, on first use.
type localFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (l *localFile) lookup(secret string) (string, bool, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", false, l.err
	}
	value, ok := l.values[FallbackKey(secret)]
	return value, ok, nil
}

func (l *localFile) load() {
	if l.path == "" {
		return
	}
	path := l.path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		l.err = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	default:
		l.values = values
	}
}
