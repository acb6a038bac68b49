package storage

import (
	"github.com/stretchr/testify/mock"
)

// MockBackend is a shared mock for unit testing
type MockBackend struct {
	mock.Mock
}

var _ Backend = &MockBackend{}

// Get mock function
func (m *MockBackend) Get(family Family, key string) (*Record, error) {
	args := m.Called(family, key)
	rec, _ := args.Get(0).(*Record)
	return rec, args.Error(1)
}

// Put mock function
func (m *MockBackend) Put(rec *Record) error {
	args := m.Called(rec)
	return args.Error(0)
}

// Remove mock function
func (m *MockBackend) Remove(family Family, key string) error {
	args := m.Called(family, key)
	return args.Error(0)
}

// Clear mock function
func (m *MockBackend) Clear() error {
	args := m.Called()
	return args.Error(0)
}

// Count mock function
func (m *MockBackend) Count(family Family) (int, error) {
	args := m.Called(family)
	return args.Int(0), args.Error(1)
}

// Close mock function
func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}
