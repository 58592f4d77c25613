// Package pressure watches host memory, classifies pressure and runs the
// staged cleanup pipeline (cache, defragmentation, models, buffers).
package pressure

// Level is a discretized bucket of host memory utilization.
type Level int

const (
	Normal Level = iota
	Warning
	Medium
	High
	Critical
)

var levelNames = [...]string{"normal", "warning", "medium", "high", "critical"}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// Classify maps a used-memory percentage to a Level.
//
//	<70 normal, 70-75 warning, (75,85) medium, [85,90) high, >=90 critical
func Classify(usedPct float64) Level {
	switch {
	case usedPct < 70:
		return Normal
	case usedPct <= 75:
		return Warning
	case usedPct < 85:
		return Medium
	case usedPct < 90:
		return High
	default:
		return Critical
	}
}

// TargetBytes is how much model memory the eviction stage tries to free at l.
func TargetBytes(l Level) uint64 {
	var mb uint64
	switch l {
	case Critical:
		mb = 50
	case High:
		mb = 25
	case Medium:
		mb = 10
	case Warning:
		mb = 5
	}
	return mb << 20
}

// UsedPercent returns used/total in percent; zero total yields 0.
func UsedPercent(usedMB, totalMB uint64) float64 {
	if totalMB == 0 {
		return 0
	}
	return float64(usedMB) / float64(totalMB) * 100
}
