// Package attachments tracks files between upload and send.
//
// An upload starts pending, owned by a goroutine talking to the file store.
// On success it moves to the staged set; on failure it is discarded. The
// staged set is handed over to exactly one outgoing message by DrainForSend.
package attachments

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/veyra/pkg/auth"
	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
	"github.com/go-go-golems/veyra/pkg/events"
)

// Upload is the handle of one in-flight upload.
type Upload struct {
	ID   string
	Name string
	Size int64

	done       chan struct{}
	once       sync.Once
	attachment *conversation.Attachment
	err        error
}

func newUpload(file *backend.File) *Upload {
	return &Upload{
		ID:   "upload_" + shortuuid.New(),
		Name: file.Name,
		Size: file.Size,
		done: make(chan struct{}),
	}
}

func (u *Upload) finish(att *conversation.Attachment, err error) bool {
	finished := false
	u.once.Do(func() {
		u.attachment = att
		u.err = err
		close(u.done)
		finished = true
	})
	return finished
}

// Done is closed once the upload completed or failed.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the upload finished and returns the staged attachment.
func (u *Upload) Wait(ctx context.Context) (*conversation.Attachment, error) {
	select {
	case <-u.done:
		if u.err != nil {
			return nil, u.err
		}
		att := *u.attachment
		return &att, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Manager struct {
	store   backend.FileStore
	tokens  auth.TokenSource
	sinks   []events.EventSink
	maxSize int64
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*Upload
	order   []string
	staged  []conversation.Attachment
}

type Option func(*Manager)

// WithMaxSize lowers the size limit. Values above MaxFileSize are ignored.
func WithMaxSize(size int64) Option {
	return func(m *Manager) {
		if size > 0 && size <= MaxFileSize {
			m.maxSize = size
		}
	}
}

// WithUploadTimeout bounds each upload. Zero means no limit.
func WithUploadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

func WithEventSinks(sinks ...events.EventSink) Option {
	return func(m *Manager) {
		m.sinks = append(m.sinks, sinks...)
	}
}

func NewManager(store backend.FileStore, tokens auth.TokenSource, options ...Option) *Manager {
	ret := &Manager{
		store:   store,
		tokens:  tokens,
		maxSize: MaxFileSize,
		pending: make(map[string]*Upload),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// BeginUpload validates file locally, acquires a credential and starts the
// upload in the background. Local failures are returned before any network
// call and leave the manager untouched.
func (m *Manager) BeginUpload(ctx context.Context, file *backend.File) (*Upload, error) {
	const op = "attachments.BeginUpload"
	if file == nil {
		return nil, chaterrors.New(chaterrors.KindInvalidState, op, "no file")
	}
	if file.Size > m.maxSize {
		return nil, chaterrors.Newf(chaterrors.KindPayloadTooLarge, op, "File size must be less than %s", FormatSize(m.maxSize))
	}
	if !Allowed(file.Name, file.MimeType) {
		return nil, chaterrors.Newf(chaterrors.KindUnsupportedMediaType, op, "Unsupported file type: %s", file.Name)
	}

	token, err := auth.Acquire(ctx, m.tokens)
	if err != nil {
		return nil, err
	}

	u := newUpload(file)
	m.mu.Lock()
	m.pending[u.ID] = u
	m.order = append(m.order, u.ID)
	m.mu.Unlock()

	log.Debug().Str("upload_id", u.ID).Str("name", file.Name).Int64("size", file.Size).Msg("starting upload")
	events.PublishAll(m.sinks, events.NewUploadEvent(u.ID, u.Name, events.UploadStarted))

	// the upload outlives the caller's context, only the upload timeout bounds it
	uctx := context.WithoutCancel(ctx)
	go func() {
		uploadCtx, cancel := uctx, func() {}
		if m.timeout > 0 {
			uploadCtx, cancel = context.WithTimeout(uctx, m.timeout)
		}
		defer cancel()

		att, err := m.store.Upload(uploadCtx, token, file)
		if err != nil {
			_ = m.OnUploadFailed(u, err)
			return
		}
		if att == nil {
			_ = m.OnUploadFailed(u, chaterrors.New(chaterrors.KindUpstreamFailure, op, "file store returned no attachment"))
			return
		}
		_ = m.OnUploadComplete(u, *att)
	}()

	return u, nil
}

// OnUploadComplete moves a pending upload to the staged set.
func (m *Manager) OnUploadComplete(u *Upload, att conversation.Attachment) error {
	m.mu.Lock()
	if _, ok := m.pending[u.ID]; !ok {
		m.mu.Unlock()
		return chaterrors.Newf(chaterrors.KindNotFound, "attachments.OnUploadComplete", "upload %s is not pending", u.ID)
	}
	m.removePendingLocked(u.ID)
	m.staged = append(m.staged, att)
	m.mu.Unlock()

	log.Debug().Str("upload_id", u.ID).Str("attachment_id", att.ID).Msg("upload completed")
	ev := events.NewUploadEvent(u.ID, u.Name, events.UploadCompleted)
	ev.AttachmentID = att.ID
	events.PublishAll(m.sinks, ev)

	// waiters resume after the event went out
	u.finish(&att, nil)
	return nil
}

// OnUploadFailed discards a pending upload. Nothing is staged. The returned
// error is the one handed to waiters.
func (m *Manager) OnUploadFailed(u *Upload, cause error) error {
	err := chaterrors.Wrap(chaterrors.KindUpstreamFailure, "attachments.Upload", cause)

	m.mu.Lock()
	m.removePendingLocked(u.ID)
	m.mu.Unlock()

	log.Warn().Err(cause).Str("upload_id", u.ID).Str("name", u.Name).Msg("upload failed")
	ev := events.NewUploadEvent(u.ID, u.Name, events.UploadFailed)
	ev.Error = chaterrors.UserMessage(err)
	events.PublishAll(m.sinks, ev)
	events.PublishAll(m.sinks, events.NewNotificationEvent("", events.LevelError, chaterrors.UserMessage(err)))

	u.finish(nil, err)
	return err
}

func (m *Manager) removePendingLocked(id string) {
	delete(m.pending, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Remove drops a staged attachment before it is sent.
func (m *Manager) Remove(attachmentID string) error {
	m.mu.Lock()
	for i, a := range m.staged {
		if a.ID == attachmentID {
			m.staged = append(m.staged[:i], m.staged[i+1:]...)
			m.mu.Unlock()
			ev := events.NewUploadEvent("", a.Name, events.UploadRemoved)
			ev.AttachmentID = a.ID
			events.PublishAll(m.sinks, ev)
			return nil
		}
	}
	m.mu.Unlock()
	return chaterrors.Newf(chaterrors.KindNotFound, "attachments.Remove", "attachment %s is not staged", attachmentID)
}

// DrainForSend returns the staged attachments and empties the set. Uploads
// still pending stay pending and are staged for a later message.
func (m *Manager) DrainForSend() []conversation.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := m.staged
	m.staged = nil
	if ret == nil {
		return []conversation.Attachment{}
	}
	return ret
}

// HasStaged reports whether a send would carry attachments.
func (m *Manager) HasStaged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staged) > 0
}

func (m *Manager) Staged() []conversation.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Attachment{}, m.staged...)
}

// Pending returns the in-flight uploads in start order.
func (m *Manager) Pending() []*Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Upload, 0, len(m.order))
	for _, id := range m.order {
		ret = append(ret, m.pending[id])
	}
	return ret
}

const maxParallelUploads = 4

// UploadResult is the outcome for one file of UploadAll. Upload is nil when
// the file was rejected before its upload started.
type UploadResult struct {
	File       *backend.File
	Upload     *Upload
	Attachment *conversation.Attachment
	Err        error
}

// UploadAll uploads files concurrently and waits for all of them. A failing
// file does not stop the others. Results are in the order of files and the
// returned error is the first failure in that order.
func (m *Manager) UploadAll(ctx context.Context, files []*backend.File) ([]UploadResult, error) {
	ret := make([]UploadResult, len(files))
	var g errgroup.Group
	g.SetLimit(maxParallelUploads)
	for i, f := range files {
		i, f := i, f
		ret[i].File = f
		g.Go(func() error {
			u, err := m.BeginUpload(ctx, f)
			if err != nil {
				ret[i].Err = err
				return nil
			}
			ret[i].Upload = u
			ret[i].Attachment, ret[i].Err = u.Wait(ctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range ret {
		if r.Err != nil {
			return ret, r.Err
		}
	}
	return ret, nil
}
