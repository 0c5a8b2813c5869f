package mocks

import (
	"testing"

	"go.uber.org/mock/gomock"
)

// NewMockClientForTest creates a new mock chain client for testing
func NewMockClientForTest(t *testing.T) *MockClient {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockClient(ctrl)
}

// NewMockThresholdSignerForTest creates a new mock ThresholdSigner for testing
func NewMockThresholdSignerForTest(t *testing.T) *MockThresholdSigner {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockThresholdSigner(ctrl)
}

// NewMockPublisherForTest creates a new mock audit Publisher for testing
func NewMockPublisherForTest(t *testing.T) *MockPublisher {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	return NewMockPublisher(ctrl)
}
