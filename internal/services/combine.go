package services

import (
	"fmt"
	"os"

	"github.com/Lllllllleong/docbatch/internal/amazon"
	"github.com/Lllllllleong/docbatch/internal/batch"
)

// Collections returns the collection paths merged for provider's results.
func Collections(provider string) []string {
	if provider == amazon.TextractName {
		return amazon.TextractCollections
	}
	return batch.DocumentAICollections
}

// CombineFiles merges previously saved result parts, in the given order.
func CombineFiles(provider string, paths []string) (batch.Response, error) {
	parts := make([]batch.Response, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, batch.NewError(batch.CodeReadError, "failed to read part %s: %v", p, err)
		}
		part, err := batch.ParseResponse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse part %s: %w", p, err)
		}
		parts = append(parts, part)
	}
	return batch.Combine(parts, Collections(provider)...)
}
