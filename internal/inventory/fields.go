package inventory

import "strings"

// Field names requested from nvidia-smi, in column order.
const (
	FieldIndex       = "index"
	FieldName        = "name"
	FieldMemoryFree  = "memory.free"
	FieldMemoryTotal = "memory.total"
	FieldPowerDraw   = "power.draw"
	FieldPowerLimit  = "power.limit"
	FieldTemperature = "temperature.gpu"
	FieldTimestamp   = "timestamp"
)

// QueryFields is the fixed column list of every inventory query.
var QueryFields = []string{
	FieldIndex,
	FieldName,
	FieldMemoryFree,
	FieldMemoryTotal,
	FieldPowerDraw,
	FieldPowerLimit,
	FieldTemperature,
	FieldTimestamp,
}

var numericFields = map[string]bool{
	FieldMemoryFree:  true,
	FieldMemoryTotal: true,
	FieldPowerDraw:   true,
	FieldPowerLimit:  true,
	FieldTemperature: true,
}

var memoryFields = map[string]bool{
	FieldMemoryFree:  true,
	FieldMemoryTotal: true,
}

// CapabilityCommand prints the full device report; its output carries the
// NVSMI banner when the tool is usable.
const CapabilityCommand = "nvidia-smi -q"

const capabilityMarker = "NVSMI"

// QueryCommand returns the remote command that lists every GPU as one CSV
// line without a header.
func QueryCommand() string {
	return "nvidia-smi --query-gpu=" + strings.Join(QueryFields, ",") + " --format=csv,noheader"
}
