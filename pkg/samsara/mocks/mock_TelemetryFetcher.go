// Package mocks provides test doubles for the samsara client.
package mocks

import (
	"context"
	"time"

	mock "github.com/stretchr/testify/mock"

	"github.com/sells-group/dispatch-sync/internal/model"
	samsara "github.com/sells-group/dispatch-sync/pkg/samsara"
)

// MockTelemetryFetcher is a mock type for the TelemetryFetcher interface.
type MockTelemetryFetcher struct {
	mock.Mock
}

// FetchTrips provides a mock function with given fields: ctx, start, end, f
func (_m *MockTelemetryFetcher) FetchTrips(ctx context.Context, start time.Time, end time.Time, f samsara.TripFilter) (model.Table, error) {
	ret := _m.Called(ctx, start, end, f)

	if len(ret) == 0 {
		panic("no return value specified for FetchTrips")
	}

	var r0 model.Table
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, time.Time, time.Time, samsara.TripFilter) (model.Table, error)); ok {
		return rf(ctx, start, end, f)
	}
	if rf, ok := ret.Get(0).(func(context.Context, time.Time, time.Time, samsara.TripFilter) model.Table); ok {
		r0 = rf(ctx, start, end, f)
	} else {
		r0 = ret.Get(0).(model.Table)
	}

	if rf, ok := ret.Get(1).(func(context.Context, time.Time, time.Time, samsara.TripFilter) error); ok {
		r1 = rf(ctx, start, end, f)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockTelemetryFetcher creates a new instance of MockTelemetryFetcher and
// registers cleanup to assert expectations.
func NewMockTelemetryFetcher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTelemetryFetcher {
	m := &MockTelemetryFetcher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
