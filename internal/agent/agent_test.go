package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumora/hearthlink/internal/domain"
)

func present(ids ...string) []domain.Device {
	out := make([]domain.Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Device{ID: domain.DeviceID(id), GroupID: "fam"})
	}
	return out
}

func TestCallRosterRequiresQuorumWithSelf(t *testing.T) {
	cases := []struct {
		name    string
		self    domain.DeviceID
		present []domain.Device
		want    []domain.DeviceID
	}{
		{"empty", "cam-a", nil, nil},
		{"alone", "cam-a", present("cam-a"), nil},
		{"self absent", "cam-a", present("cam-b", "cam-c"), nil},
		{"pair", "cam-a", present("cam-a", "cam-b"), []domain.DeviceID{"cam-a", "cam-b"}},
		{"trio", "cam-b", present("cam-a", "cam-b", "cam-c"), []domain.DeviceID{"cam-a", "cam-b", "cam-c"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, callRoster(tc.self, tc.present))
		})
	}
}
