package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeviceValidation(t *testing.T) {
	long := strings.Repeat("x", 65)

	cases := []struct {
		name    string
		id      DeviceID
		group   GroupID
		display string
		wantErr error
	}{
		{"valid", "cam-a", "fam", "Kitchen", nil},
		{"empty display ok", "cam-a", "fam", "", nil},
		{"empty id", "", "fam", "Kitchen", ErrDeviceIDEmpty},
		{"long id", DeviceID(long), "fam", "Kitchen", ErrDeviceIDTooLong},
		{"empty group", "cam-a", "", "Kitchen", ErrGroupIDEmpty},
		{"long group", "cam-a", GroupID(long), "Kitchen", ErrGroupIDTooLong},
		{"long display", "cam-a", "fam", long, ErrDisplayNameTooLong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDevice(tc.id, tc.group, tc.display)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.id, d.ID)
			assert.Equal(t, tc.group, d.GroupID)
			assert.False(t, d.IsPresent)
		})
	}
}
