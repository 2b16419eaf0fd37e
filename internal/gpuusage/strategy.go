package gpuusage

// Strategy identifies the acquisition path serving GPU utilization readings.
// It is selected once at startup; a failing external tool demotes the provider
// to StrategyCounters permanently.
type Strategy int

const (
	// StrategyNvidiaSMI samples by invoking nvidia-smi every tick.
	StrategyNvidiaSMI Strategy = iota
	// StrategyRocmSMI samples by invoking rocm-smi every tick.
	StrategyRocmSMI
	// StrategyCounters samples the open counter handle set. An empty set is
	// the unavailable case and yields zero utilization.
	StrategyCounters
)

func (s Strategy) String() string {
	switch s {
	case StrategyNvidiaSMI:
		return "nvidia-smi"
	case StrategyRocmSMI:
		return "rocm-smi"
	case StrategyCounters:
		return "counters"
	default:
		return "unknown"
	}
}
