package stats

import "github.com/stretchr/testify/mock"

type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}

// NoopStats discards every update.
type NoopStats struct{}

func (NoopStats) Incr(string)           {}
func (NoopStats) Decr(string)           {}
func (NoopStats) RegisterMetric(string) {}
