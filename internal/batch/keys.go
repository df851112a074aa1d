package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StagingKeys are the object names reserved for one submission.
type StagingKeys struct {
	Input        string
	OutputPrefix string
}

// KeyGenerator derives collision-free staging keys. Uniqueness comes from a
// millisecond timestamp plus a random suffix, not from locking, so any number
// of orchestrations may share a bucket.
type KeyGenerator struct {
	// Base is the key namespace, usually the provider name.
	Base string
	Now  func() time.Time
}

// Suffix returns "<unix-ms>-<12 random hex chars>".
func (g KeyGenerator) Suffix() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", now().UnixMilli(), random)
}

// Keys reserves an input key and an output prefix. explicitInput, when set,
// replaces the generated input key; the output prefix is always generated.
func (g KeyGenerator) Keys(ext, explicitInput string) StagingKeys {
	base := g.Base
	if base == "" {
		base = "batch"
	}
	suffix := g.Suffix()
	input := explicitInput
	if input == "" {
		input = fmt.Sprintf("%s-temp/%s%s", base, suffix, ext)
	}
	return StagingKeys{
		Input:        input,
		OutputPrefix: fmt.Sprintf("%s-output/%s/", base, suffix),
	}
}
