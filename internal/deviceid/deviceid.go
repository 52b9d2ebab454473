// Package deviceid persists the identity of this device and the GUID of the
// desktop file it was last synced with.
package deviceid

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vkucera/task-coach/internal/dao"
)

const (
	// DeviceIDKey is the metadata key holding the device UUID.
	DeviceIDKey = "device_id"

	// PairedGUIDKey is the metadata key holding the GUID of the desktop file
	// of the last successful sync.
	PairedGUIDKey = "paired_guid"
)

// Generate returns a new device identifier.
func Generate() string {
	return uuid.New().String()
}

// Get returns the stored device identifier.
func Get(ctx context.Context, q dao.Querier) (string, error) {
	id, err := dao.NewMetadataDAO(q).Get(ctx, DeviceIDKey)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return "", fmt.Errorf("device id not initialised: %w", err)
		}
		return "", err
	}
	return id, nil
}

// Ensure returns the stored device identifier, generating and storing one
// on first use.
func Ensure(ctx context.Context, q dao.Querier) (string, error) {
	id, err := Get(ctx, q)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, dao.ErrNotFound) {
		return "", err
	}
	id = Generate()
	if err := dao.NewMetadataDAO(q).Put(ctx, DeviceIDKey, id); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	return id, nil
}

// PairedGUID returns the GUID of the desktop file last synced with, empty
// when the device was never synced.
func PairedGUID(ctx context.Context, q dao.Querier) (string, error) {
	guid, err := dao.NewMetadataDAO(q).Get(ctx, PairedGUIDKey)
	if errors.Is(err, dao.ErrNotFound) {
		return "", nil
	}
	return guid, err
}

// SetPairedGUID records the GUID of the desktop file just synced with.
func SetPairedGUID(ctx context.Context, q dao.Querier, guid string) error {
	return dao.NewMetadataDAO(q).Put(ctx, PairedGUIDKey, guid)
}
