package stores

import "fmt"

// Drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Open constructs an uninitialized store for driver. Callers must Init and
// Migrate it before use.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteStore(Config{Path: path})
	case DriverFile:
		return NewFileStore(path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
