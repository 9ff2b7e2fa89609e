package selector

import "github.com/gpuwatchhq/gpuwatch/pkg/types"

// Memory marks a resource eligible when it is fully idle or its free
// memory ratio reaches the threshold (inclusive). A resource reporting zero
// total memory is never eligible.
type Memory struct{}

func (Memory) Kind() Kind { return KindMemory }

func (Memory) Select(snapshot types.Snapshot, threshold float64) (Result, error) {
	eligible := make([]int, 0, len(snapshot))
	for _, record := range snapshot {
		if MemoryEligible(record, threshold) {
			eligible = append(eligible, record.Index)
		}
	}
	report, err := Report(snapshot)
	if err != nil {
		return Result{}, err
	}
	return Result{Eligible: eligible, Report: report}, nil
}

// MemoryEligible applies the memory predicate to a single record.
func MemoryEligible(record types.ResourceRecord, threshold float64) bool {
	if record.MemoryTotal <= 0 {
		return false
	}
	if record.MemoryFree == record.MemoryTotal {
		return true
	}
	return float64(record.MemoryFree)/float64(record.MemoryTotal) >= threshold
}
