package hal

import (
	"errors"
	"testing"
)

func TestFullIsBusy(t *testing.T) {
	if !errors.Is(ErrFull, ErrBusy) {
		t.Errorf("errors.Is(ErrFull, ErrBusy) = false, want true")
	}
	for _, err := range []error{ErrInvalid, ErrNoMemory, ErrHardware} {
		if errors.Is(err, ErrBusy) {
			t.Errorf("errors.Is(%v, ErrBusy) = true, want false", err)
		}
	}
}
