// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth carries inspector identity through request contexts so the
// API client can attach it to outgoing calls.
package auth

import (
	"context"
)

type contextKey string

const (
	inspectorIDKey contextKey = "inspector_id"
	deviceIDKey    contextKey = "device_id"
)

// SetInspectorID sets the inspector ID in the context
func SetInspectorID(ctx context.Context, inspectorID string) context.Context {
	return context.WithValue(ctx, inspectorIDKey, inspectorID)
}

// GetInspectorID retrieves the inspector ID from the context
func GetInspectorID(ctx context.Context) (string, bool) {
	inspectorID, ok := ctx.Value(inspectorIDKey).(string)
	return inspectorID, ok
}

// SetDeviceID sets the device ID in the context
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the device ID from the context
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// SetIdentity sets both inspector and device ID in context
func SetIdentity(ctx context.Context, inspectorID, deviceID string) context.Context {
	ctx = SetInspectorID(ctx, inspectorID)
	return SetDeviceID(ctx, deviceID)
}
