package domain

import "time"

// MetricsSnapshot — точечный срез метрик сервиса.
// Иммутабелен, создается заново на каждый цикл — никогда не кэшируется между циклами.
type MetricsSnapshot struct {
	Replicas          int       `json:"replicas"`
	CPUUtilization    float64   `json:"cpu_utilization"`    // 0.0 - 1.0+
	MemoryUtilization float64   `json:"memory_utilization"` // 0.0 - 1.0+
	LatencyP95        float64   `json:"latency_p95"`        // миллисекунды
	ErrorRate         float64   `json:"error_rate"`         // доля ошибок, 0.0 - 1.0
	Timestamp         time.Time `json:"timestamp"`
}

// Имена метрик для VerificationCheck (маппинг check.Name -> поле снапшота)
const (
	MetricReplicas          = "replicas"
	MetricCPUUtilization    = "cpu_utilization"
	MetricMemoryUtilization = "memory_utilization"
	MetricLatencyP95        = "latency_p95"
	MetricErrorRate         = "error_rate"
)

// MetricValue достает значение метрики по имени.
// Второй результат false, если чек ссылается на неизвестную метрику.
func (s MetricsSnapshot) MetricValue(name string) (float64, bool) {
	switch name {
	case MetricReplicas:
		return float64(s.Replicas), true
	case MetricCPUUtilization:
		return s.CPUUtilization, true
	case MetricMemoryUtilization:
		return s.MemoryUtilization, true
	case MetricLatencyP95:
		return s.LatencyP95, true
	case MetricErrorRate:
		return s.ErrorRate, true
	default:
		return 0, false
	}
}
