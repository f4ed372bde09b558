// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package services

import "context"

// ContextHub matches the WebSocket hub's RunWithContext without importing
// the websocket package.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the WebSocket hub under supervision. The hub's loop
// already follows the suture pattern; this only adds the service name.
type HubService struct {
	hub ContextHub
}

// NewHubService wraps hub.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *HubService) String() string { return "websocket-hub" }
