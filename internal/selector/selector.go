// Package selector decides which resources in a snapshot are available.
//
// Strategies form a closed set identified by Kind. Names are resolved when
// configuration is loaded, so an unknown strategy is a configuration error
// rather than a failure in the middle of a poll.
package selector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

// Kind identifies a selection strategy.
type Kind string

const (
	// KindMemory selects resources by free memory ratio.
	KindMemory Kind = "memory"
)

// Kinds lists every known strategy.
func Kinds() []Kind {
	return []Kind{KindMemory}
}

// ParseKind resolves a strategy name. Matching ignores case and
// surrounding whitespace.
func ParseKind(name string) (Kind, error) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range Kinds() {
		if k == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown selector %q (known: %s)", name, joinKinds(Kinds()))
}

// Result is the outcome of one selection.
type Result struct {
	// Eligible holds the indices of available resources in snapshot order.
	Eligible []int
	// Report is an indented JSON rendition of the whole snapshot.
	Report string
}

// Strategy selects eligible resources from a snapshot.
type Strategy interface {
	Kind() Kind
	Select(snapshot types.Snapshot, threshold float64) (Result, error)
}

// For returns the strategy for k. Kinds come from ParseKind, so the
// default branch is unreachable for validated configuration.
func For(k Kind) (Strategy, error) {
	switch k {
	case KindMemory:
		return Memory{}, nil
	default:
		return nil, fmt.Errorf("unknown selector %q", string(k))
	}
}

// Report renders the snapshot for inclusion in notifications.
func Report(snapshot types.Snapshot) (string, error) {
	if snapshot == nil {
		snapshot = types.Snapshot{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render snapshot report: %w", err)
	}
	return string(data), nil
}

func joinKinds(kinds []Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
