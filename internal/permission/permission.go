package permission

import (
	"context"
	"sync"
)

// Status is the three-state authorization result.
type Status string

const (
	StatusAuthorized    Status = "authorized"
	StatusDenied        Status = "denied"
	StatusNotDetermined Status = "notDetermined"
)

// Service exposes camera and notification authorization. Both checks are
// context-aware because real implementations may prompt or call out.
type Service interface {
	NotificationStatus(ctx context.Context) (Status, error)
	RequestNotificationAuthorization(ctx context.Context) (Status, error)
	CameraStatus(ctx context.Context) (Status, error)
	RequestCameraAuthorization(ctx context.Context) (Status, error)
}

// StaticService is an in-process implementation with fixed grants.
// Requesting authorization resolves notDetermined to the configured
// grant decision, mirroring a platform prompt.
type StaticService struct {
	mu             sync.Mutex
	notification   Status
	camera         Status
	grantOnRequest bool
}

// NewStaticService constructs a service with both permissions
// undetermined and the given prompt outcome.
func NewStaticService(grantOnRequest bool) *StaticService {
	return &StaticService{
		notification:   StatusNotDetermined,
		camera:         StatusNotDetermined,
		grantOnRequest: grantOnRequest,
	}
}

// NotificationStatus returns the current notification authorization.
func (s *StaticService) NotificationStatus(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notification, nil
}

// RequestNotificationAuthorization resolves an undetermined status.
func (s *StaticService) RequestNotificationAuthorization(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notification == StatusNotDetermined {
		if s.grantOnRequest {
			s.notification = StatusAuthorized
		} else {
			s.notification = StatusDenied
		}
	}
	return s.notification, nil
}

// CameraStatus returns the current camera authorization.
func (s *StaticService) CameraStatus(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera, nil
}

// RequestCameraAuthorization resolves an undetermined status.
func (s *StaticService) RequestCameraAuthorization(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.camera == StatusNotDetermined {
		if s.grantOnRequest {
			s.camera = StatusAuthorized
		} else {
			s.camera = StatusDenied
		}
	}
	return s.camera, nil
}

// SetNotificationStatus overrides the notification status.
func (s *StaticService) SetNotificationStatus(status Status) {
	s.mu.Lock()
	s.notification = status
	s.mu.Unlock()
}

// SetCameraStatus overrides the camera status.
func (s *StaticService) SetCameraStatus(status Status) {
	s.mu.Lock()
	s.camera = status
	s.mu.Unlock()
}
