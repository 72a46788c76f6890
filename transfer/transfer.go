// Package transfer moves collection archives between an endpoint and the
// operator: pulling them back through the control plane's `get`/extracted-
// file path, or causing the endpoint to push them straight to
// object storage via a presigned URL, plus the put-file
// repository used to stage collector bundles on the endpoint.
package transfer

import (
	"context"
	"time"

	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/objstore"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// controlPlane is the subset of falcon.Client the transfer manager drives
// directly (outside of rtrsession's command submission/polling).
type controlPlane interface {
	ListSessionFiles(ctx context.Context, sessionID string) ([]falcon.SessionFile, error)
	GetExtractedFile(ctx context.Context, sessionID, sha256, filename string) (falcon.ExtractedFile, error)
	ListPutFiles(ctx context.Context) ([]string, error)
	GetPutFiles(ctx context.Context, ids []string) ([]falcon.CloudFile, error)
	CreatePutFile(ctx context.Context, name string, content []byte, comment, description string) (falcon.CloudFile, error)
	DeletePutFile(ctx context.Context, id string) error
}

// sessionRunner is the subset of rtrsession.Manager the transfer manager
// drives for command submission, polling, and pulsing.
type sessionRunner interface {
	Execute(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, admin bool) (falcon.CommandResult, error)
	ExecuteActiveResponder(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, timeout time.Duration) (falcon.CommandResult, error)
	Pulse(ctx context.Context, sess *rtrsession.Session) error
}

// objectStore is the subset of objstore.Client the transfer manager drives.
type objectStore interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	VerifyUpload(ctx context.Context, key string, expectedSize int64) error
}

// Manager coordinates file transfer between the RTR control plane, the
// endpoint, and object storage.
type Manager struct {
	falcon   controlPlane
	sessions sessionRunner
	objects  objectStore
}

// New builds a Manager.
func New(falconClient *falcon.Client, sessions *rtrsession.Manager, objects *objstore.Client) *Manager {
	return &Manager{falcon: falconClient, sessions: sessions, objects: objects}
}
