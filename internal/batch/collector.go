package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DefaultCollectConcurrency bounds parallel shard downloads.
const DefaultCollectConcurrency = 8

// Collector gathers every result shard a completed job wrote.
type Collector struct {
	Store       ObjectStore
	Concurrency int
}

// Collect lists output, keeps names accepted by match, and downloads and
// parses them. Parts are returned in name order whatever order the downloads
// finish in. A completed job with no qualifying objects is a NoOutputFound
// error.
func (c *Collector) Collect(ctx context.Context, output StagingLocation, match func(string) bool) ([]Response, error) {
	names, err := c.resultNames(ctx, output, match)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, newError(CodeNoOutputFound, nil, "no result files found under %s", output.URI)
	}

	limit := c.Concurrency
	if limit <= 0 {
		limit = DefaultCollectConcurrency
	}
	parts := make([]Response, len(names))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, name := range names {
		eg.Go(func() error {
			data, err := c.Store.Get(gctx, output.Bucket, name)
			if err != nil {
				return ProviderErr(err, "failed to download %s", name)
			}
			part, err := ParseResponse(data)
			if err != nil {
				return ProviderErr(err, "failed to parse %s", name)
			}
			parts[i] = part
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (c *Collector) resultNames(ctx context.Context, output StagingLocation, match func(string) bool) ([]string, error) {
	var names []string
	for name, err := range c.Store.List(ctx, output.Bucket, output.Key) {
		if err != nil {
			return nil, ProviderErr(err, "failed to list %s", output.URI)
		}
		if match == nil || match(name) {
			names = append(names, name)
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
	return names, nil
}

// ParseResponse decodes one JSON result document. Numbers are kept as
// json.Number so re-encoding is lossless.
func ParseResponse(data []byte) (Response, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var r Response
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode result JSON: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("result JSON is not an object")
	}
	return r, nil
}

// NaturalLess orders names lexicographically except that runs of digits
// compare by value, so "shard-2" sorts before "shard-10".
func NaturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			si := i
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			sj := j
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			na, nb := trimZeros(a[si:i]), trimZeros(b[sj:j])
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			// Equal value: fewer leading zeros first keeps the order total.
			if i-si != j-sj {
				return i-si < j-sj
			}
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func trimZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}
