package resource

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/openfroyo/converge/pkg/stores"
)

// Checksum algorithms.
const (
	AlgorithmMD5       = "md5"
	AlgorithmMD5Lite   = "md5lite"
	AlgorithmTimestamp = "timestamp"
	AlgorithmMTime     = "mtime"
	AlgorithmCTime     = "time"
	AlgorithmSHA256    = "sha256"
	AlgorithmBLAKE3    = "blake3"
)

// md5liteLimit is the number of leading bytes hashed by md5lite.
const md5liteLimit = 512

// Algorithms lists the supported checksum algorithms.
func Algorithms() []string {
	return []string{
		AlgorithmMD5, AlgorithmMD5Lite, AlgorithmTimestamp, AlgorithmMTime,
		AlgorithmCTime, AlgorithmSHA256, AlgorithmBLAKE3,
	}
}

func validAlgorithm(algo string) bool {
	for _, a := range Algorithms() {
		if a == algo {
			return true
		}
	}
	return false
}

// Checksum tracks a content or timestamp fingerprint of the path against the
// value memoized by the previous run. It never changes the file; its sync
// records the new fingerprint and reports file_modified when a recorded one
// was replaced.
type Checksum struct {
	base
	algorithm string
	should    string
	hasShould bool
	is        string
	known     bool
}

func newChecksum(r *Resource) State {
	return &Checksum{base: base{r: r}, algorithm: AlgorithmMD5}
}

func (c *Checksum) Name() string { return AttrChecksum }

func (c *Checksum) Event() Event { return EventFileModified }

// Algorithm returns the selected algorithm.
func (c *Checksum) Algorithm() string { return c.algorithm }

// SetShould selects the algorithm (md5 when value is nil, true or empty) and
// loads the memoized fingerprint for it. Without one the desired value stays
// unset.
func (c *Checksum) SetShould(ctx context.Context, value interface{}) error {
	algo := AlgorithmMD5
	switch v := value.(type) {
	case nil:
	case bool:
		if !v {
			return NewConfigurationError(c.path(), AttrChecksum, value, fmt.Errorf("checksum cannot be disabled with false; omit it instead"))
		}
	case string:
		if v != "" {
			algo = v
		}
	default:
		return NewConfigurationError(c.path(), AttrChecksum, value, fmt.Errorf("expected an algorithm name, got %T", value))
	}
	if !validAlgorithm(algo) {
		return NewConfigurationError(c.path(), AttrChecksum, value, fmt.Errorf("unsupported algorithm %q", algo))
	}
	if c.r.env.Memo == nil {
		return NewConfigurationError(c.path(), AttrChecksum, value, fmt.Errorf("no checksum store configured"))
	}

	c.algorithm = algo
	c.should = ""
	c.hasShould = false

	sums, ok := c.recorded(ctx)
	if !ok {
		c.log().Debugf("No checksum for %s", c.path())
		return nil
	}
	sum, found := sums[algo]
	if !found {
		c.log().Debugf("Found checksum for %s but not of type %s", c.path(), algo)
		return nil
	}
	c.should = sum
	c.hasShould = true
	return nil
}

// recorded reads the memoized fingerprints of the path. A store failure is
// treated like a missing entry.
func (c *Checksum) recorded(ctx context.Context) (map[string]string, bool) {
	sums, err := c.r.env.Memo.GetChecksums(ctx, c.path())
	if err != nil {
		if !errors.Is(err, stores.ErrNotFound) {
			c.log().Warningf("checksum store unreadable for %s, treating as no baseline: %v", c.path(), err)
		}
		return nil, false
	}
	return sums, true
}

func (c *Checksum) Should() interface{} {
	if !c.hasShould {
		return nil
	}
	return c.should
}

func (c *Checksum) Is() interface{} {
	if !c.known {
		return Unknown
	}
	return c.is
}

// Retrieve computes the fingerprint of the live file. Read failures are
// logged and leave the value unknown.
func (c *Checksum) Retrieve(ctx context.Context) error {
	c.known = false
	sum, err := c.compute(ctx)
	if err != nil {
		c.log().Errf("Could not compute %s checksum of %s: %v", c.algorithm, c.path(), err)
		return nil
	}
	c.is = sum
	c.known = true
	c.log().Debugf("checksum state is %s", c.is)
	return nil
}

func (c *Checksum) compute(ctx context.Context) (string, error) {
	switch c.algorithm {
	case AlgorithmTimestamp, AlgorithmMTime, AlgorithmCTime:
		info := c.r.Stat(ctx, false)
		if info == nil {
			return "", fmt.Errorf("file does not exist")
		}
		t := info.ModTime
		if c.algorithm == AlgorithmCTime {
			t = info.ChangeTime
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	}

	var limit int64
	if c.algorithm == AlgorithmMD5Lite {
		limit = md5liteLimit
	}
	data, err := c.r.env.FS.ReadBytes(c.path(), limit)
	if err != nil {
		return "", err
	}

	switch c.algorithm {
	case AlgorithmSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case AlgorithmBLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:]), nil
	}
}

// InSync is true when the live fingerprint equals the memoized one, or when
// the live fingerprint could not be computed.
func (c *Checksum) InSync() bool {
	if !c.known {
		return true
	}
	return c.hasShould && c.should == c.is
}

// Sync compares the live fingerprint with the store. A differing recorded
// value is replaced and reported as file_modified; a missing one is recorded
// as the baseline without an event.
func (c *Checksum) Sync(ctx context.Context) (Event, error) {
	if !c.known {
		return EventNone, nil
	}

	sums, _ := c.recorded(ctx)
	prior, replacing := sums[c.algorithm]
	if replacing && prior == c.is {
		c.should, c.hasShould = c.is, true
		return EventNone, nil
	}

	if replacing {
		c.log().Debugf("Replacing checksum %s with %s", prior, c.is)
	} else {
		c.log().Debugf("Creating checksum %s for %s of type %s", c.is, c.path(), c.algorithm)
	}
	if err := c.r.env.Memo.PutChecksum(ctx, c.path(), c.algorithm, c.is); err != nil {
		return EventNone, NewMutationError(c.path(), AttrChecksum, c.is, err, "record checksum")
	}
	c.should, c.hasShould = c.is, true

	if replacing {
		return EventFileModified, nil
	}
	return EventNone, nil
}

func (c *Checksum) MarkUnknown() { c.known = false }
