// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package process_test

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"go.mosalloc.dev/mosalloc/pkg/process"
)

type MockedService struct {
	mock.Mock
}

func (m *MockedService) Process(ctx context.Context, cmd *cobra.Command, args []string) error {
	arguments := m.Called(ctx, cmd, args)
	return arguments.Error(0)
}

func (m *MockedService) SetLogger(*zap.Logger) error {
	args := m.Called()
	return args.Error(0)
}

func TestMainSingleProcess(t *testing.T) {
	mockService := new(MockedService)
	mockService.On("SetLogger", mock.Anything).Return(nil)
	mockService.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	assert.Nil(t, process.Main(func() error { return nil }, mockService))
	mockService.AssertExpectations(t)
}

func TestMainProcessError(t *testing.T) {
	mockService := MockedService{}

	err := process.ErrLogger.New("Process Error")
	mockService.On("SetLogger", mock.Anything).Return(nil)
	mockService.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(err)
	assert.Equal(t, err, process.Main(func() error { return nil }, &mockService))
	mockService.AssertExpectations(t)
}

func TestMainStopsAtFirstError(t *testing.T) {
	mockService1 := new(MockedService)
	mockService2 := new(MockedService)

	err := process.ErrLogger.New("boom")
	mockService1.On("SetLogger", mock.Anything).Return(nil)
	mockService1.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(err)

	assert.Equal(t, err, process.Main(func() error { return nil }, mockService1, mockService2))
	mockService1.AssertExpectations(t)
	mockService2.AssertNotCalled(t, "SetLogger", mock.Anything)
}
