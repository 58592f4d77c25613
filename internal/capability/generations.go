package capability

import "strings"

type generation struct {
	name       string
	memoryMB   uint64
	units      uint32
	concurrent uint32
	precisions []Precision
}

// generations is matched in order against chip identification strings.
var generations = [...]generation{
	{name: "M1", memoryMB: 1024, units: 8, concurrent: 4, precisions: []Precision{PrecisionFP16, PrecisionINT8}},
	{name: "M2", memoryMB: 2048, units: 16, concurrent: 8, precisions: []Precision{PrecisionFP16, PrecisionINT8, PrecisionFP32}},
	{name: "M3", memoryMB: 4096, units: 32, concurrent: 16, precisions: []Precision{PrecisionFP16, PrecisionINT8, PrecisionFP32}},
	{name: "M4", memoryMB: 4096, units: 32, concurrent: 16, precisions: []Precision{PrecisionFP16, PrecisionINT8, PrecisionFP32}},
}

// genericApple applies to Apple silicon that matches no known generation.
var genericApple = generation{name: "", memoryMB: 512, units: 2, concurrent: 2, precisions: []Precision{PrecisionFP16, PrecisionINT8}}

// matchGeneration finds the first generation whose name, preceded by
// prefix, occurs in s. The hardware summary carries serials and model
// identifiers, so it is matched with the "Apple " prefix.
func matchGeneration(s, prefix string) (generation, bool) {
	for _, g := range generations {
		if strings.Contains(s, prefix+g.name) {
			return g, true
		}
	}
	return generation{}, false
}

func (g generation) snapshot(source string) Snapshot {
	return Snapshot{
		MaxMemoryMB:         g.memoryMB,
		MaxConcurrentModels: g.concurrent,
		ComputeUnits:        g.units,
		Generation:          g.name,
		Source:              source,
	}.withPrecisions(g.precisions...)
}
