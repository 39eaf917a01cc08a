package actuator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// MockCluster — in-memory кластер для локального запуска и тестов.
// Держит счетчик реплик per-service и синтезирует метрики вокруг него.
// Потокобезопасен: пайплайны разных сервисов ходят сюда конкурентно.
type MockCluster struct {
	mu       sync.RWMutex
	replicas map[string]int

	// Профили нагрузки, которые можно подкрутить из теста/демо
	cpu     map[string]float64
	memory  map[string]float64
	latency map[string]float64
	errRate map[string]float64

	// Имитация сбоя: сервисы из этого набора валят SetReplicas
	failing map[string]struct{}

	// Имитируем сетевую задержку 5-30мс, как у реального API кластера
	simulateLatency bool
}

func NewMockCluster() *MockCluster {
	return &MockCluster{
		replicas: make(map[string]int),
		cpu:      make(map[string]float64),
		memory:   make(map[string]float64),
		latency:  make(map[string]float64),
		errRate:  make(map[string]float64),
		failing:  make(map[string]struct{}),
	}
}

// Seed задает стартовое состояние сервиса
func (m *MockCluster) Seed(service string, replicas int, cpu, mem, latencyMs, errRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicas[service] = replicas
	m.cpu[service] = cpu
	m.memory[service] = mem
	m.latency[service] = latencyMs
	m.errRate[service] = errRate
}

// SetProfile меняет профиль нагрузки (например, после скейла в тесте)
func (m *MockCluster) SetProfile(service string, cpu, mem, latencyMs, errRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cpu[service] = cpu
	m.memory[service] = mem
	m.latency[service] = latencyMs
	m.errRate[service] = errRate
}

// SimulateLatency включает имитацию сетевой задержки кластерного API
func (m *MockCluster) SimulateLatency(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateLatency = enabled
}

// FailNext заставляет SetReplicas для сервиса возвращать ошибку
func (m *MockCluster) FailNext(service string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fail {
		m.failing[service] = struct{}{}
	} else {
		delete(m.failing, service)
	}
}

func (m *MockCluster) SetReplicas(ctx context.Context, service string, replicas int) error {
	m.mu.RLock()
	simulate := m.simulateLatency
	m.mu.RUnlock()

	if simulate {
		delay := time.Duration(5+rand.Intn(25)) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, bad := m.failing[service]; bad {
		return fmt.Errorf("cluster api: failed to scale %s", service)
	}
	if _, ok := m.replicas[service]; !ok {
		return fmt.Errorf("cluster api: unknown service %s", service)
	}

	// Идемпотентность: повторная установка того же значения — no-op без ошибки
	m.replicas[service] = replicas
	return nil
}

func (m *MockCluster) GetSnapshot(ctx context.Context, service string) (domain.MetricsSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.replicas[service]
	if !ok {
		return domain.MetricsSnapshot{}, fmt.Errorf("metrics: unknown service %s", service)
	}

	return domain.MetricsSnapshot{
		Replicas:          n,
		CPUUtilization:    m.cpu[service],
		MemoryUtilization: m.memory[service],
		LatencyP95:        m.latency[service],
		ErrorRate:         m.errRate[service],
		Timestamp:         time.Now(),
	}, nil
}

// Replicas — текущее значение для ассертов в тестах
func (m *MockCluster) Replicas(service string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.replicas[service]
}
