package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

type fakeControlPlane struct {
	sessionFiles   []falcon.SessionFile
	sessionFilesFn func(callNum int) []falcon.SessionFile
	listCalls      int32

	extracted     falcon.ExtractedFile
	extractedErr  error
	extractedSeq  []func() (falcon.ExtractedFile, error)
	extractedCall int32

	putFileIDs  []string
	putFiles    []falcon.CloudFile
	created     falcon.CloudFile
	createCalls int32
	deleteCalls int32
}

func (f *fakeControlPlane) ListSessionFiles(ctx context.Context, sessionID string) ([]falcon.SessionFile, error) {
	n := int(atomic.AddInt32(&f.listCalls, 1))
	if f.sessionFilesFn != nil {
		return f.sessionFilesFn(n), nil
	}
	return f.sessionFiles, nil
}

func (f *fakeControlPlane) GetExtractedFile(ctx context.Context, sessionID, sha256, filename string) (falcon.ExtractedFile, error) {
	idx := int(atomic.AddInt32(&f.extractedCall, 1)) - 1
	if idx < len(f.extractedSeq) {
		return f.extractedSeq[idx]()
	}
	return f.extracted, f.extractedErr
}

func (f *fakeControlPlane) ListPutFiles(ctx context.Context) ([]string, error) {
	return f.putFileIDs, nil
}

func (f *fakeControlPlane) GetPutFiles(ctx context.Context, ids []string) ([]falcon.CloudFile, error) {
	return f.putFiles, nil
}

func (f *fakeControlPlane) CreatePutFile(ctx context.Context, name string, content []byte, comment, description string) (falcon.CloudFile, error) {
	atomic.AddInt32(&f.createCalls, 1)
	return f.created, nil
}

func (f *fakeControlPlane) DeletePutFile(ctx context.Context, id string) error {
	atomic.AddInt32(&f.deleteCalls, 1)
	return nil
}

type fakeSessionRunner struct {
	executeResult falcon.CommandResult
	executeErr    error
	executeSeq    []func() (falcon.CommandResult, error)
	executeCall   int32

	mu        sync.Mutex
	cmdlines  []string

	arResult falcon.CommandResult
	arErr    error

	pulseCalls int32
	pulseErr   error
}

func (f *fakeSessionRunner) Execute(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, admin bool) (falcon.CommandResult, error) {
	idx := int(atomic.AddInt32(&f.executeCall, 1)) - 1

	f.mu.Lock()
	f.cmdlines = append(f.cmdlines, cmdline)
	f.mu.Unlock()

	if idx < len(f.executeSeq) {
		return f.executeSeq[idx]()
	}
	return f.executeResult, f.executeErr
}

func (f *fakeSessionRunner) ExecuteActiveResponder(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, timeout time.Duration) (falcon.CommandResult, error) {
	return f.arResult, f.arErr
}

func (f *fakeSessionRunner) Pulse(ctx context.Context, sess *rtrsession.Session) error {
	atomic.AddInt32(&f.pulseCalls, 1)
	return f.pulseErr
}

type fakeObjectStore struct {
	presignedURL string
	presignErr   error
	verifyErr    error
}

func (f *fakeObjectStore) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return f.presignedURL, f.presignErr
}

func (f *fakeObjectStore) VerifyUpload(ctx context.Context, key string, expectedSize int64) error {
	return f.verifyErr
}

func newTestManager(fc *fakeControlPlane, fs *fakeSessionRunner, fo *fakeObjectStore) *Manager {
	return &Manager{falcon: fc, sessions: fs, objects: fo}
}
