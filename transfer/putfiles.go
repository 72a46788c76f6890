package transfer

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
)

// PutFileRepo uploads collector bundles and launcher scripts to the
// control-plane-hosted put-file repository, memoizing uploads per
// (customer_id, name) so parallel batch workers share one upload instead
// of racing to create duplicates. singleflight.Group only collapses calls
// that overlap in time; once a customer's host count exceeds the worker
// pool's concurrency limit, later waves call EnsureUploaded again after the
// first wave's Do has already returned, so a separate done map remembers
// completed uploads for the lifetime of the process.
type PutFileRepo struct {
	client controlPlane
	group  singleflight.Group

	mu   sync.Mutex
	done map[string]falcon.CloudFile
}

// NewPutFileRepo builds a PutFileRepo backed by client.
func NewPutFileRepo(client *falcon.Client) *PutFileRepo {
	return &PutFileRepo{client: client, done: make(map[string]falcon.CloudFile)}
}

// EnsureUploaded makes sure a put-file named name exists in the caller's
// customer-id scope with the content at localPath, re-uploading if a
// stale entry with the same name already exists. Concurrent calls for the
// same (customerID, name) share a single upload, and any call after the
// first success for that pair is served from the done cache without
// touching the control plane again.
func (r *PutFileRepo) EnsureUploaded(ctx context.Context, customerID, name, localPath, comment, description string) (falcon.CloudFile, error) {
	key := customerID + ":" + name

	if cf, ok := r.cached(key); ok {
		return cf, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if cf, ok := r.cached(key); ok {
			return cf, nil
		}
		return r.ensureUploaded(ctx, name, localPath, comment, description)
	})
	if err != nil {
		return falcon.CloudFile{}, err
	}
	cf := v.(falcon.CloudFile)

	r.mu.Lock()
	if r.done == nil {
		r.done = make(map[string]falcon.CloudFile)
	}
	r.done[key] = cf
	r.mu.Unlock()

	return cf, nil
}

func (r *PutFileRepo) cached(key string) (falcon.CloudFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cf, ok := r.done[key]
	return cf, ok
}

// Confirm re-lists the put-file repository and verifies that id is still
// present, returning its current record. Callers use this after an
// upload-propagation wait to make sure the control plane has actually
// settled on the new entry before handing it to a put command.
func (r *PutFileRepo) Confirm(ctx context.Context, id string) (falcon.CloudFile, error) {
	ids, err := r.client.ListPutFiles(ctx)
	if err != nil {
		return falcon.CloudFile{}, errors.Wrapf(err, "list put files to confirm %s", id)
	}

	found := false
	for _, candidate := range ids {
		if candidate == id {
			found = true
			break
		}
	}
	if !found {
		return falcon.CloudFile{}, errors.Wrapf(errors.ErrPreconditionFailed, "put file %s not visible after propagation wait", id)
	}

	existing, err := r.client.GetPutFiles(ctx, []string{id})
	if err != nil {
		return falcon.CloudFile{}, errors.Wrapf(err, "get put file %s to confirm", id)
	}
	if len(existing) == 0 {
		return falcon.CloudFile{}, errors.Wrapf(errors.ErrPreconditionFailed, "put file %s not visible after propagation wait", id)
	}
	return existing[0], nil
}

func (r *PutFileRepo) ensureUploaded(ctx context.Context, name, localPath, comment, description string) (falcon.CloudFile, error) {
	ids, err := r.client.ListPutFiles(ctx)
	if err != nil {
		return falcon.CloudFile{}, errors.Wrapf(err, "list put files before uploading %s", name)
	}

	if len(ids) > 0 {
		existing, err := r.client.GetPutFiles(ctx, ids)
		if err != nil {
			return falcon.CloudFile{}, errors.Wrapf(err, "get put files before uploading %s", name)
		}
		for _, cf := range existing {
			if cf.Name == name {
				if err := r.client.DeletePutFile(ctx, cf.ID); err != nil {
					return falcon.CloudFile{}, errors.Wrapf(err, "delete stale put file %s", name)
				}
				break
			}
		}
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return falcon.CloudFile{}, errors.Wrapf(err, "read bundle %s for upload", localPath)
	}

	created, err := r.client.CreatePutFile(ctx, name, content, comment, description)
	if err != nil {
		return falcon.CloudFile{}, errors.Wrapf(err, "create put file %s", name)
	}
	return created, nil
}
