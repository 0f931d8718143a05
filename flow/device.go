package flow

import (
	"context"
	"runtime"

	"github.com/MrEthical07/pinflow/internal"
	"github.com/google/uuid"
)

// DeviceInfo describes the device a flow instance runs on. It is generated once per instance
// and used for audit only, never for branching.
type DeviceInfo struct {
	ID          string
	Model       string
	OSVersion   string
	Platform    string
	Fingerprint string
}

// DeviceProbe reports the model, OS version and platform of the current device.
type DeviceProbe func(ctx context.Context) (model, osVersion, platform string)

// RuntimeProbe describes the host from the Go runtime.
func RuntimeProbe(context.Context) (string, string, string) {
	return runtime.GOARCH, runtime.Version(), runtime.GOOS
}

// NewDeviceInfo assigns a fresh ID and a fingerprint over the probed attributes.
func NewDeviceInfo(ctx context.Context, probe DeviceProbe) DeviceInfo {
	if probe == nil {
		probe = RuntimeProbe
	}
	model, osVersion, platform := probe(ctx)
	return DeviceInfo{
		ID:          uuid.NewString(),
		Model:       model,
		OSVersion:   osVersion,
		Platform:    platform,
		Fingerprint: internal.Fingerprint(model, osVersion, platform),
	}
}
