package test

import (
	"os"
	"path/filepath"
)

// LoadFixture reads a file relative to the working directory of the test binary,
// which is the directory of the package under test
func LoadFixture(relativePath string) ([]byte, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	return os.ReadFile(filepath.Join(wd, filepath.FromSlash(relativePath)))
}
