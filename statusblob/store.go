// Package statusblob keeps the sync status record as a JSON object in S3.
// Writes are conditional on the ETag read, so concurrent claims race safely.
package statusblob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/BLEND360/hubspot-deals-export/config"
	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rotisserie/eris"
)

const maxConflictRetries = 5

var errConflict = errors.New("status object changed concurrently")

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store implements the coordinator's status store over one S3 object.
type Store struct {
	client API
	bucket string
	key    string
}

// New builds a store from the default AWS credential chain.
func New(ctx context.Context, cfg config.S3Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("status s3 bucket required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Key), nil
}

// NewWithClient builds a store over an existing client.
func NewWithClient(client API, bucket, key string) *Store {
	return &Store{client: client, bucket: bucket, key: key}
}

type record struct {
	SyncStatus     string     `json:"sync_status"`
	LastUpdatedOn  *time.Time `json:"last_updated_on,omitempty"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
	UpdateEvent    string     `json:"update_event,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
	LastFailedOn   *time.Time `json:"last_failed_on,omitempty"`
	RunID          string     `json:"run_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

func (r *record) toModel(entity string) *models.SyncStatus {
	return &models.SyncStatus{
		EntityName:     entity,
		SyncStatus:     r.SyncStatus,
		LastUpdatedOn:  r.LastUpdatedOn,
		UpdatedBy:      r.UpdatedBy,
		UpdateEvent:    r.UpdateEvent,
		LastSyncStatus: r.LastSyncStatus,
		LastFailedOn:   r.LastFailedOn,
		RunID:          r.RunID,
		LeaseExpiresAt: r.LeaseExpiresAt,
	}
}

type document map[string]*record

func (s *Store) read(ctx context.Context) (document, *string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if err != nil {
		if isNotFound(err) {
			return document{}, nil, nil
		}
		return nil, nil, eris.Wrapf(err, "failed to read s3://%s/%s", s.bucket, s.key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to read status object body")
	}
	doc := document{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, nil, eris.Wrap(err, "failed to decode status object")
		}
	}
	etag := out.ETag
	if etag == nil {
		etag = aws.String("")
	}
	return doc, etag, nil
}

func (s *Store) write(ctx context.Context, doc document, etag *string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to encode status object")
	}
	in := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &s.key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if etag == nil {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = etag
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		if isConflict(err) {
			return errConflict
		}
		return eris.Wrapf(err, "failed to write s3://%s/%s", s.bucket, s.key)
	}
	return nil
}

// mutate applies fn to the current document and writes it back when fn
// reports a change, re-reading and re-applying on concurrent modification.
func (s *Store) mutate(ctx context.Context, fn func(doc document) bool) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		doc, etag, err := s.read(ctx)
		if err != nil {
			return err
		}
		if !fn(doc) {
			return nil
		}
		err = s.write(ctx, doc, etag)
		if errors.Is(err, errConflict) {
			continue
		}
		return err
	}
	return eris.Wrapf(errConflict, "gave up after %d attempts", maxConflictRetries)
}

func (s *Store) Get(ctx context.Context, entity string) (*models.SyncStatus, error) {
	doc, _, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := doc[entity]
	if !ok {
		return nil, nil
	}
	return rec.toModel(entity), nil
}

func (s *Store) Claim(ctx context.Context, entity, runID, event string, now, leaseUntil time.Time) (bool, error) {
	var claimed bool
	err := s.mutate(ctx, func(doc document) bool {
		claimed = false
		rec := doc[entity]
		if rec == nil {
			rec = &record{SyncStatus: models.StatusIdle}
			doc[entity] = rec
		}
		if rec.toModel(entity).InProgress(now) {
			return false
		}
		lease := leaseUntil.UTC()
		rec.SyncStatus = models.StatusProcessing
		rec.RunID = runID
		rec.LeaseExpiresAt = &lease
		rec.UpdateEvent = event
		rec.UpdatedBy = models.UpdatedBySystem
		claimed = true
		return true
	})
	return claimed, err
}

func (s *Store) Finish(ctx context.Context, entity, runID string, o models.Outcome) (bool, error) {
	var finished bool
	err := s.mutate(ctx, func(doc document) bool {
		finished = false
		rec := doc[entity]
		if rec == nil || rec.RunID != runID {
			return false
		}
		rec.SyncStatus = models.StatusIdle
		rec.RunID = ""
		rec.LeaseExpiresAt = nil
		applyOutcome(rec, o)
		finished = true
		return true
	})
	return finished, err
}

func (s *Store) Record(ctx context.Context, entity string, o models.Outcome) error {
	return s.mutate(ctx, func(doc document) bool {
		rec := doc[entity]
		if rec == nil {
			rec = &record{SyncStatus: models.StatusIdle}
			doc[entity] = rec
		}
		applyOutcome(rec, o)
		return true
	})
}

func (s *Store) ForceRelease(ctx context.Context, entity string) error {
	return s.mutate(ctx, func(doc document) bool {
		rec := doc[entity]
		if rec == nil {
			return false
		}
		rec.SyncStatus = models.StatusIdle
		rec.RunID = ""
		rec.LeaseExpiresAt = nil
		rec.UpdatedBy = models.UpdatedBySystem
		return true
	})
}

func applyOutcome(rec *record, o models.Outcome) {
	rec.UpdateEvent = o.Event
	rec.UpdatedBy = models.UpdatedBySystem
	if o.Success {
		rec.LastSyncStatus = models.OutcomeSuccess
	} else {
		at := o.At.UTC()
		rec.LastSyncStatus = models.OutcomeFailed
		rec.LastFailedOn = &at
	}
	if o.Watermark != nil {
		wm := o.Watermark.UTC()
		rec.LastUpdatedOn = &wm
	}
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

func isConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
