// Package mocks provides test doubles for the geocode client.
package mocks

import (
	"context"

	geocode "github.com/sells-group/geolookup/pkg/geocode"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Geocode provides a mock function with given fields: ctx, q
func (_m *MockClient) Geocode(ctx context.Context, q geocode.Query) (*geocode.Result, error) {
	ret := _m.Called(ctx, q)

	if len(ret) == 0 {
		panic("no return value specified for Geocode")
	}

	var r0 *geocode.Result
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, geocode.Query) (*geocode.Result, error)); ok {
		return rf(ctx, q)
	}
	if rf, ok := ret.Get(0).(func(context.Context, geocode.Query) *geocode.Result); ok {
		r0 = rf(ctx, q)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*geocode.Result)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, geocode.Query) error); ok {
		r1 = rf(ctx, q)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Reverse provides a mock function with given fields: ctx, lat, lng
func (_m *MockClient) Reverse(ctx context.Context, lat float64, lng float64) (*geocode.Result, error) {
	ret := _m.Called(ctx, lat, lng)

	if len(ret) == 0 {
		panic("no return value specified for Reverse")
	}

	var r0 *geocode.Result
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, float64, float64) (*geocode.Result, error)); ok {
		return rf(ctx, lat, lng)
	}
	if rf, ok := ret.Get(0).(func(context.Context, float64, float64) *geocode.Result); ok {
		r0 = rf(ctx, lat, lng)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*geocode.Result)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, float64, float64) error); ok {
		r1 = rf(ctx, lat, lng)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Usage provides a mock function with no fields
func (_m *MockClient) Usage() geocode.Usage {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Usage")
	}

	var r0 geocode.Usage
	if rf, ok := ret.Get(0).(func() geocode.Usage); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(geocode.Usage)
	}

	return r0
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
