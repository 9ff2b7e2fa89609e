package types

// NotSupported is the value stored in a numeric field that the inventory
// tool reported as not supported on the device.
const NotSupported = 1

// ResourceRecord represents a single GPU as reported by one inventory poll.
type ResourceRecord struct {
	Index       int     `json:"index" yaml:"index"`
	Name        string  `json:"name" yaml:"name"`
	MemoryFree  int64   `json:"memory.free" yaml:"memory_free"`
	MemoryTotal int64   `json:"memory.total" yaml:"memory_total"`
	PowerDraw   float64 `json:"power.draw" yaml:"power_draw"`
	PowerLimit  float64 `json:"power.limit" yaml:"power_limit"`
	Temperature float64 `json:"temperature.gpu" yaml:"temperature"`
	Timestamp   string  `json:"timestamp" yaml:"timestamp"`
}

// Snapshot is the ordered set of records produced by one poll. Position
// equals the record's Index.
type Snapshot []ResourceRecord
