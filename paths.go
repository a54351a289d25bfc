package cogmem

import (
	"os"
	"path/filepath"
)

// defaultDBPath resolves ~/.cogmem/cogmem.db, falling back to a relative
// path if the home directory can't be determined.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./cogmem.db"
	}
	return filepath.Join(home, ".cogmem", "cogmem.db")
}
