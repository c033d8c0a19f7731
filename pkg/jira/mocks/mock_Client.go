// Package mocks provides test doubles for the jira client.
package mocks

import (
	"context"

	jira "github.com/sells-group/datemover/pkg/jira"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// ServerInfo provides a mock function with given fields: ctx
func (_m *MockClient) ServerInfo(ctx context.Context) (*jira.ServerInfo, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for ServerInfo")
	}

	var r0 *jira.ServerInfo
	if rf, ok := ret.Get(0).(func(context.Context) (*jira.ServerInfo, error)); ok {
		return rf(ctx)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*jira.ServerInfo)
	}
	return r0, ret.Error(1)
}

// Myself provides a mock function with given fields: ctx
func (_m *MockClient) Myself(ctx context.Context) (*jira.User, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Myself")
	}

	var r0 *jira.User
	if rf, ok := ret.Get(0).(func(context.Context) (*jira.User, error)); ok {
		return rf(ctx)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*jira.User)
	}
	return r0, ret.Error(1)
}

// TestConnection provides a mock function with given fields: ctx
func (_m *MockClient) TestConnection(ctx context.Context) jira.ConnectionResult {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for TestConnection")
	}

	if rf, ok := ret.Get(0).(func(context.Context) jira.ConnectionResult); ok {
		return rf(ctx)
	}
	return ret.Get(0).(jira.ConnectionResult)
}

// Search provides a mock function with given fields: ctx, jql, fields, startAt, maxResults
func (_m *MockClient) Search(ctx context.Context, jql string, fields []string, startAt int, maxResults int) (*jira.SearchResult, error) {
	ret := _m.Called(ctx, jql, fields, startAt, maxResults)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	var r0 *jira.SearchResult
	if rf, ok := ret.Get(0).(func(context.Context, string, []string, int, int) (*jira.SearchResult, error)); ok {
		return rf(ctx, jql, fields, startAt, maxResults)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*jira.SearchResult)
	}
	return r0, ret.Error(1)
}

// SearchAll provides a mock function with given fields: ctx, jql, fields
func (_m *MockClient) SearchAll(ctx context.Context, jql string, fields []string) ([]jira.Issue, error) {
	ret := _m.Called(ctx, jql, fields)

	if len(ret) == 0 {
		panic("no return value specified for SearchAll")
	}

	var r0 []jira.Issue
	if rf, ok := ret.Get(0).(func(context.Context, string, []string) ([]jira.Issue, error)); ok {
		return rf(ctx, jql, fields)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]jira.Issue)
	}
	return r0, ret.Error(1)
}

// Issue provides a mock function with given fields: ctx, key, fields
func (_m *MockClient) Issue(ctx context.Context, key string, fields []string) (*jira.Issue, error) {
	ret := _m.Called(ctx, key, fields)

	if len(ret) == 0 {
		panic("no return value specified for Issue")
	}

	var r0 *jira.Issue
	if rf, ok := ret.Get(0).(func(context.Context, string, []string) (*jira.Issue, error)); ok {
		return rf(ctx, key, fields)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*jira.Issue)
	}
	return r0, ret.Error(1)
}

// Changelog provides a mock function with given fields: ctx, key
func (_m *MockClient) Changelog(ctx context.Context, key string) ([]jira.History, error) {
	ret := _m.Called(ctx, key)

	if len(ret) == 0 {
		panic("no return value specified for Changelog")
	}

	var r0 []jira.History
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]jira.History, error)); ok {
		return rf(ctx, key)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]jira.History)
	}
	return r0, ret.Error(1)
}

// Fields provides a mock function with given fields: ctx
func (_m *MockClient) Fields(ctx context.Context) ([]jira.Field, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Fields")
	}

	var r0 []jira.Field
	if rf, ok := ret.Get(0).(func(context.Context) ([]jira.Field, error)); ok {
		return rf(ctx)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]jira.Field)
	}
	return r0, ret.Error(1)
}

// FieldIndex provides a mock function with given fields: ctx
func (_m *MockClient) FieldIndex(ctx context.Context) (*jira.FieldIndex, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for FieldIndex")
	}

	var r0 *jira.FieldIndex
	if rf, ok := ret.Get(0).(func(context.Context) (*jira.FieldIndex, error)); ok {
		return rf(ctx)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*jira.FieldIndex)
	}
	return r0, ret.Error(1)
}

// Health provides a mock function with no fields
func (_m *MockClient) Health() jira.HealthSnapshot {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Health")
	}

	if rf, ok := ret.Get(0).(func() jira.HealthSnapshot); ok {
		return rf()
	}
	return ret.Get(0).(jira.HealthSnapshot)
}

// Close provides a mock function with no fields
func (_m *MockClient) Close() {
	_m.Called()
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
