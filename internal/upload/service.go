// Package upload exposes the gated upload endpoints and hands accepted
// files to object storage.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/gate"
	"github.com/your-org/eventsphere/internal/quota"
	"github.com/your-org/eventsphere/pkg/storage/objectstore"
)

// ErrForbidden is returned when the caller may not attach photos to an
// event.
var ErrForbidden = errors.New("only the organizer can upload photos")

type Gatekeeper interface {
	Evaluate(ctx context.Context, c gate.Candidate) (*gate.Result, error)
}

// EventPhotos reads events and appends gallery photos.
type EventPhotos interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	AppendPhoto(ctx context.Context, eventID, url string) error
}

// Service runs the gate and stores what it accepts.
type Service struct {
	gate   Gatekeeper
	store  objectstore.Client
	events EventPhotos
	logger *zap.Logger
	now    func() time.Time
}

type Params struct {
	Gate   Gatekeeper
	Store  objectstore.Client
	Events EventPhotos
	Logger *zap.Logger
}

// UploadOptions captures metadata about the upload.
type UploadOptions struct {
	Filename    string
	ContentType string
	Identity    *domain.Identity
}

type UploadResult struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	ObjectKey   string    `json:"objectKey"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
	// Quota is the allowance after this upload, when one was consumed.
	Quota *quota.Decision `json:"-"`
}

func NewService(p Params) *Service {
	return &Service{
		gate:   p.Gate,
		store:  p.Store,
		events: p.Events,
		logger: p.Logger.Named("upload"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ProcessUpload validates data and stores it under the caller's prefix.
func (s *Service) ProcessUpload(ctx context.Context, data []byte, opts UploadOptions) (*UploadResult, error) {
	owner := "anonymous"
	if opts.Identity != nil {
		owner = opts.Identity.UserID
	}
	return s.process(ctx, data, opts, path.Join("uploads", owner, s.now().Format("2006/01/02")))
}

// AddEventPhoto validates data, stores it and appends its URL to the event
// gallery. Ownership is checked before the gate runs so refused callers
// never spend quota.
func (s *Service) AddEventPhoto(ctx context.Context, eventID string, data []byte, opts UploadOptions) (*UploadResult, error) {
	if opts.Identity == nil {
		return nil, ErrForbidden
	}
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}
	if opts.Identity.Role != domain.RoleAdmin && event.OrganizerID != opts.Identity.UserID {
		return nil, ErrForbidden
	}

	res, err := s.process(ctx, data, opts, path.Join("events", eventID))
	if err != nil {
		return nil, err
	}
	if err := s.events.AppendPhoto(ctx, eventID, res.URL); err != nil {
		return nil, fmt.Errorf("append photo to %s: %w", eventID, err)
	}
	s.logger.Info("event photo added",
		zap.String("event_id", eventID),
		zap.String("user_id", opts.Identity.UserID),
		zap.String("url", res.URL),
	)
	return res, nil
}

func (s *Service) process(ctx context.Context, data []byte, opts UploadOptions, prefix string) (*UploadResult, error) {
	verdict, err := s.gate.Evaluate(ctx, gate.Candidate{
		Data:         data,
		DeclaredType: opts.ContentType,
		Filename:     opts.Filename,
		Size:         int64(len(data)),
		Identity:     opts.Identity,
	})
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	id := uuid.NewString()
	key := path.Join(prefix, id+extensionOf(verdict.Filename))

	metadata := map[string]string{
		"original_filename": verdict.Filename,
		"checksum":          checksum,
	}
	if opts.Identity != nil {
		metadata["uploaded_by"] = opts.Identity.UserID
	}

	url, err := s.store.Put(ctx, objectstore.Object{
		Key:         key,
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: verdict.ContentType,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	res := &UploadResult{
		ID:          id,
		URL:         url,
		ObjectKey:   key,
		Filename:    verdict.Filename,
		ContentType: verdict.ContentType,
		Checksum:    checksum,
		Size:        verdict.Size,
		UploadedAt:  s.now(),
		Quota:       verdict.Quota,
	}
	if verdict.Image != nil {
		res.Width, res.Height = verdict.Image.Width, verdict.Image.Height
	}
	return res, nil
}

func extensionOf(filename string) string {
	return strings.ToLower(path.Ext(filename))
}

// Close releases underlying resources.
func (s *Service) Close() error {
	return s.store.Close()
}
