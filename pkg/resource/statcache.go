package resource

import (
	"errors"
	"io/fs"

	"github.com/openfroyo/converge/pkg/fsys"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// StatCache holds the metadata of one resource path. It is owned by a single
// resource and never shared.
type StatCache struct {
	fs      fsys.FS
	path    string
	log     *telemetry.Logger
	info    *fsys.Info
	fetched bool
}

func newStatCache(filesystem fsys.FS, path string, log *telemetry.Logger) *StatCache {
	return &StatCache{fs: filesystem, path: path, log: log}
}

// Get returns the cached metadata, fetching it when it has not been fetched
// yet or refresh is set. A failed fetch is logged at debug level and reported
// as absent (nil).
func (c *StatCache) Get(refresh bool) *fsys.Info {
	if c.fetched && !refresh {
		return c.info
	}

	info, err := c.fs.Stat(c.path)
	c.fetched = true
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Debugf("File %s does not exist", c.path)
		} else {
			c.log.Debugf("Failed to stat %s: %v", c.path, err)
		}
		c.info = nil
		return nil
	}

	c.info = info
	return info
}

// Invalidate drops the cached metadata so the next Get fetches it again.
func (c *StatCache) Invalidate() {
	c.fetched = false
	c.info = nil
}
