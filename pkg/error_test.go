package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrStall,
		ErrCancelled,
		ErrProtocol,
		ErrNotConfigured,
		ErrInvalidEndpoint,
		ErrInvalidRequest,
		ErrBufferTooSmall,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
		ErrAlreadyRunning,
		ErrReset,
		ErrClosed,
		ErrInvalidState,
		ErrInvalidParameter,
		ErrNotSupported,
		ErrBusy,
		ErrNoMemory,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrStall, "endpoint stalled"},
		{ErrInvalidState, "invalid state"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestWrappedErrors(t *testing.T) {
	err := fmt.Errorf("feature unit 0x16: %w", ErrProtocol)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("errors.Is(%v, ErrProtocol) = false, want true", err)
	}
	if errors.Is(err, ErrStall) {
		t.Errorf("errors.Is(%v, ErrStall) = true, want false", err)
	}
}
