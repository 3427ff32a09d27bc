package gateway

import (
	"context"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/arencloud/s3keeper/internal/s3"
)

type CopyInput struct {
	CredentialID string
	SourceBucket string
	SourceKey    string
	DestBucket   string
	DestKey      string
}

func (in CopyInput) validate() error {
	for _, f := range []struct{ name, v string }{
		{"source bucket", in.SourceBucket},
		{"source key", in.SourceKey},
		{"destination bucket", in.DestBucket},
		{"destination key", in.DestKey},
	} {
		if err := required(f.name, f.v); err != nil {
			return err
		}
	}
	if in.SourceBucket == in.DestBucket && in.SourceKey == in.DestKey {
		return apperr.InvalidInput("source and destination are the same object")
	}
	return nil
}

func (in CopyInput) copyEvent() audit.Event {
	return audit.Event{
		Action:   audit.ActionCopyObject,
		Bucket:   in.SourceBucket,
		Key:      in.SourceKey,
		Metadata: map[string]any{"destBucket": in.DestBucket, "destKey": in.DestKey},
	}
}

// Copy duplicates the source object at the destination.
func (g *Gateway) Copy(ctx context.Context, actor audit.Actor, in CopyInput) error {
	ev := in.copyEvent()
	if err := in.validate(); err != nil {
		return g.reject(actor, ev, err)
	}
	return g.run(ctx, actor, in.CredentialID, &ev, "copy object", func(c *s3.Client, _ *models.Credential) error {
		return c.CopyObject(ctx, in.SourceBucket, in.SourceKey, in.DestBucket, in.DestKey)
	})
}

// MoveState is how far a move got.
type MoveState string

const (
	MovePending       MoveState = "PENDING"
	MoveCopied        MoveState = "COPIED"
	MoveSourceDeleted MoveState = "SOURCE_DELETED"
)

type MoveResult struct {
	State MoveState `json:"state"`
}

// Move copies then deletes the source. It is not atomic: when the delete fails
// the object exists at both locations, the result state is MoveCopied and the
// MOVE_OBJECT entry is recorded as a failure. The copy phase is audited on its own.
func (g *Gateway) Move(ctx context.Context, actor audit.Actor, in CopyInput) (MoveResult, error) {
	res := MoveResult{State: MovePending}
	ev := audit.Event{
		Action:   audit.ActionMoveObject,
		Bucket:   in.SourceBucket,
		Key:      in.SourceKey,
		Metadata: map[string]any{"destBucket": in.DestBucket, "destKey": in.DestKey},
	}
	if err := in.validate(); err != nil {
		return res, g.reject(actor, ev, err)
	}

	err := g.run(ctx, actor, in.CredentialID, &ev, "move object", func(c *s3.Client, _ *models.Credential) error {
		defer func() { ev.Metadata["state"] = string(res.State) }()

		copyEv := in.copyEvent()
		started := time.Now()
		copyErr := c.CopyObject(ctx, in.SourceBucket, in.SourceKey, in.DestBucket, in.DestKey)
		if copyErr != nil {
			copyEv.Err = apperr.OperationFailed("copy object", copyErr)
		}
		g.finish(actor, &copyEv, started)
		if copyErr != nil {
			return copyErr
		}
		res.State = MoveCopied

		if err := c.DeleteObject(ctx, in.SourceBucket, in.SourceKey); err != nil {
			return apperr.OperationFailed("delete source object after copy", err)
		}
		res.State = MoveSourceDeleted
		return nil
	})
	return res, err
}
