// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const (
	MaxDeviceIDLen    = 64
	MaxGroupIDLen     = 64
	MaxDisplayNameLen = 64
)

var (
	ErrDeviceIDEmpty      = errors.New("device id empty")
	ErrDeviceIDTooLong    = errors.New("device id too long")
	ErrGroupIDEmpty       = errors.New("group id empty")
	ErrGroupIDTooLong     = errors.New("group id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type (
	DeviceID string
	GroupID  string
)

// Device is one fixed endpoint of a family group. IsPresent and
// LastActiveAt are soft state owned by the presence registry; everything
// else comes from the device store.
type Device struct {
	ID           DeviceID  `json:"id"`
	GroupID      GroupID   `json:"groupId"`
	DisplayName  string    `json:"displayName"`
	IsPresent    bool      `json:"isPresent"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// NewDevice is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewDevice(id DeviceID, groupID GroupID, displayName string) (*Device, error) {
	if id == "" {
		return nil, ErrDeviceIDEmpty
	}
	if len(id) > MaxDeviceIDLen {
		return nil, ErrDeviceIDTooLong
	}
	if groupID == "" {
		return nil, ErrGroupIDEmpty
	}
	if len(groupID) > MaxGroupIDLen {
		return nil, ErrGroupIDTooLong
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Device{ID: id, GroupID: groupID, DisplayName: displayName}, nil
}

// Group is the unit of calling: devices of one family group ring each other.
type Group struct {
	ID        GroupID   `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
