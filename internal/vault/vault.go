// Package vault stores, selects and validates per-user S3 credentials.
//
// Secrets are encrypted before they reach the Store and are never returned to
// callers; only the client factory decrypts them.
package vault

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/arencloud/s3keeper/internal/s3"
	"github.com/arencloud/s3keeper/internal/secrets"
	"github.com/google/uuid"
)

// ConnChecker checks connection parameters against the live backend.
type ConnChecker interface {
	CheckConnection(ctx context.Context, p s3.Params) error
}

// Input is the full set of fields for create and update.
type Input struct {
	Alias     string `json:"alias"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	IsDefault bool   `json:"isDefault"`
}

// View is the outward projection of a credential. It has no secret field.
type View struct {
	ID              string     `json:"id"`
	Alias           string     `json:"alias"`
	AccessKey       string     `json:"accessKey"`
	Region          string     `json:"region"`
	Endpoint        string     `json:"endpoint,omitempty"`
	IsDefault       bool       `json:"isDefault"`
	State           string     `json:"state"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`
}

type ValidationResult struct {
	Valid       bool      `json:"valid"`
	Message     string    `json:"message"`
	ValidatedAt time.Time `json:"validatedAt"`
}

type Vault struct {
	store  Store
	cipher secrets.Cipher
	checker ConnChecker
	audit  audit.Recorder
	log    logging.Logger
	now    func() time.Time
}

func New(store Store, cipher secrets.Cipher, checker ConnChecker, rec audit.Recorder, log logging.Logger) *Vault {
	return &Vault{store: store, cipher: cipher, checker: checker, audit: rec, log: log, now: time.Now}
}

func viewOf(c *models.Credential) View {
	return View{
		ID:              c.ID,
		Alias:           c.Alias,
		AccessKey:       c.AccessKey,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		IsDefault:       c.IsDefault,
		State:           c.State,
		CreatedAt:       c.CreatedAt,
		LastValidatedAt: c.LastValidatedAt,
	}
}

func (in *Input) normalize() error {
	in.Alias = strings.TrimSpace(in.Alias)
	in.AccessKey = strings.TrimSpace(in.AccessKey)
	in.Region = strings.TrimSpace(in.Region)
	in.Endpoint = strings.TrimSpace(in.Endpoint)
	switch {
	case in.Alias == "":
		return apperr.InvalidInput("alias is required")
	case len(in.Alias) > 100:
		return apperr.InvalidInput("alias must be at most 100 characters")
	case in.AccessKey == "":
		return apperr.InvalidInput("access key is required")
	case in.SecretKey == "":
		return apperr.InvalidInput("secret key is required")
	case in.Region == "":
		return apperr.InvalidInput("region is required")
	}
	return nil
}

func (in *Input) params() s3.Params {
	return s3.Params{AccessKey: in.AccessKey, SecretKey: in.SecretKey, Region: in.Region, Endpoint: in.Endpoint}
}

// Create validates in against the backend and stores it.
func (v *Vault) Create(ctx context.Context, actor audit.Actor, in Input) (View, error) {
	alias := strings.TrimSpace(in.Alias)
	c, err := v.create(ctx, actor.UserID, in)
	v.audit.Record(actor, audit.Event{Action: audit.ActionCreateCredential, Err: err, Metadata: map[string]any{"alias": alias}})
	if err != nil {
		return View{}, err
	}
	v.log.Info("credential created", "userId", actor.UserID, "credentialId", c.ID, "alias", c.Alias, "accessKey", logging.MaskKey(c.AccessKey))
	return viewOf(c), nil
}

func (v *Vault) create(ctx context.Context, user string, in Input) (*models.Credential, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if err := v.checkAlias(ctx, v.store, user, in.Alias, ""); err != nil {
		return nil, err
	}
	if err := v.checker.CheckConnection(ctx, in.params()); err != nil {
		return nil, apperr.InvalidCredential(err)
	}
	enc, err := v.cipher.Encrypt(in.SecretKey)
	if err != nil {
		return nil, apperr.Internal("failed to encrypt secret key", err)
	}
	now := v.now()
	c := &models.Credential{
		ID:              uuid.NewString(),
		UserID:          user,
		Alias:           in.Alias,
		AccessKey:       in.AccessKey,
		SecretKeyEnc:    enc,
		Region:          in.Region,
		Endpoint:        in.Endpoint,
		IsDefault:       in.IsDefault,
		State:           models.CredentialActive,
		LastValidatedAt: &now,
	}
	err = v.store.WithUserLock(ctx, user, func(tx Store) error {
		if err := v.checkAlias(ctx, tx, user, in.Alias, ""); err != nil {
			return err
		}
		if in.IsDefault {
			if err := tx.ClearDefaults(ctx, user); err != nil {
				return err
			}
		}
		return tx.Insert(ctx, c)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

func (v *Vault) checkAlias(ctx context.Context, s Store, user, alias, excludeID string) error {
	taken, err := s.AliasTaken(ctx, user, alias, excludeID)
	if err != nil {
		return apperr.Internal("failed to check alias", err)
	}
	if taken {
		return apperr.Conflict("credential with this alias already exists")
	}
	return nil
}

// Resolve returns the credential to use for an operation: the given id, or the
// user's default when id is empty. It has no side effects.
func (v *Vault) Resolve(ctx context.Context, user, id string) (*models.Credential, error) {
	var (
		c   *models.Credential
		err error
	)
	if id == "" {
		c, err = v.store.FindDefault(ctx, user)
	} else {
		c, err = v.store.FindActive(ctx, user, id)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

func (v *Vault) List(ctx context.Context, user string) ([]View, error) {
	items, err := v.store.ListActive(ctx, user)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]View, 0, len(items))
	for i := range items {
		out = append(out, viewOf(&items[i]))
	}
	return out, nil
}

func (v *Vault) Get(ctx context.Context, user, id string) (View, error) {
	c, err := v.store.FindActive(ctx, user, id)
	if err != nil {
		return View{}, storeErr(err)
	}
	return viewOf(c), nil
}

// Update replaces every field of credential id and re-validates it.
func (v *Vault) Update(ctx context.Context, actor audit.Actor, id string, in Input) (View, error) {
	c, err := v.update(ctx, actor.UserID, id, in)
	meta := map[string]any{"credentialId": id}
	if c != nil {
		meta["alias"] = c.Alias
	}
	v.audit.Record(actor, audit.Event{Action: audit.ActionUpdateCredential, Err: err, Metadata: meta})
	if err != nil {
		return View{}, err
	}
	v.log.Info("credential updated", "userId", actor.UserID, "credentialId", id)
	return viewOf(c), nil
}

func (v *Vault) update(ctx context.Context, user, id string, in Input) (*models.Credential, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if _, err := v.store.FindActive(ctx, user, id); err != nil {
		return nil, storeErr(err)
	}
	if err := v.checkAlias(ctx, v.store, user, in.Alias, id); err != nil {
		return nil, err
	}
	if err := v.checker.CheckConnection(ctx, in.params()); err != nil {
		return nil, apperr.InvalidCredential(err)
	}
	enc, err := v.cipher.Encrypt(in.SecretKey)
	if err != nil {
		return nil, apperr.Internal("failed to encrypt secret key", err)
	}

	var out *models.Credential
	err = v.store.WithUserLock(ctx, user, func(tx Store) error {
		c, err := tx.FindActive(ctx, user, id)
		if err != nil {
			return err
		}
		if err := v.checkAlias(ctx, tx, user, in.Alias, id); err != nil {
			return err
		}
		if in.IsDefault && !c.IsDefault {
			if err := tx.ClearDefaults(ctx, user); err != nil {
				return err
			}
		}
		now := v.now()
		c.Alias = in.Alias
		c.AccessKey = in.AccessKey
		c.SecretKeyEnc = enc
		c.Region = in.Region
		c.Endpoint = in.Endpoint
		c.IsDefault = in.IsDefault
		c.LastValidatedAt = &now
		if err := tx.Save(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// SetDefault makes id the user's only default credential.
func (v *Vault) SetDefault(ctx context.Context, actor audit.Actor, id string) error {
	user := actor.UserID
	err := v.store.WithUserLock(ctx, user, func(tx Store) error {
		if _, err := tx.FindActive(ctx, user, id); err != nil {
			return err
		}
		return tx.SetDefault(ctx, user, id)
	})
	err = storeErr(err)
	v.audit.Record(actor, audit.Event{Action: audit.ActionSetDefaultCredential, Err: err, Metadata: map[string]any{"credentialId": id}})
	if err == nil {
		v.log.Info("default credential set", "userId", user, "credentialId", id)
	}
	return err
}

// Delete deactivates id. The row and its alias history remain.
func (v *Vault) Delete(ctx context.Context, actor audit.Actor, id string) error {
	user := actor.UserID
	var alias string
	err := v.store.WithUserLock(ctx, user, func(tx Store) error {
		c, err := tx.FindActive(ctx, user, id)
		if err != nil {
			return err
		}
		alias = c.Alias
		return tx.Deactivate(ctx, user, id)
	})
	err = storeErr(err)
	v.audit.Record(actor, audit.Event{Action: audit.ActionDeleteCredential, Err: err, Metadata: map[string]any{"credentialId": id, "alias": alias}})
	if err == nil {
		v.log.Info("credential deactivated", "userId", user, "credentialId", id)
	}
	return err
}

// Validate checks the stored credential. A failed check is reported in the
// result, not as an error.
func (v *Vault) Validate(ctx context.Context, actor audit.Actor, id string) (ValidationResult, error) {
	user := actor.UserID
	c, err := v.store.FindActive(ctx, user, id)
	if err != nil {
		err = storeErr(err)
		v.audit.Record(actor, audit.Event{Action: audit.ActionValidateCredential, Err: err, Metadata: map[string]any{"credentialId": id}})
		return ValidationResult{}, err
	}

	secret, err := v.cipher.Decrypt(c.SecretKeyEnc)
	if err == nil {
		err = v.checker.CheckConnection(ctx, s3.Params{AccessKey: c.AccessKey, SecretKey: secret, Region: c.Region, Endpoint: c.Endpoint})
	}
	now := v.now()
	meta := map[string]any{"credentialId": id, "alias": c.Alias}
	if err != nil {
		v.log.Warn("credential validation failed", "userId", user, "credentialId", id, "error", err)
		v.audit.Record(actor, audit.Event{Action: audit.ActionValidateCredential, Err: err, Metadata: meta})
		return ValidationResult{Valid: false, Message: "Validation failed: " + err.Error(), ValidatedAt: now}, nil
	}

	if err := v.store.MarkValidated(ctx, id, now); err != nil {
		err = storeErr(err)
		v.audit.Record(actor, audit.Event{Action: audit.ActionValidateCredential, Err: err, Metadata: meta})
		return ValidationResult{}, err
	}
	v.audit.Record(actor, audit.Event{Action: audit.ActionValidateCredential, Metadata: meta})
	return ValidationResult{Valid: true, Message: "Credentials are valid", ValidatedAt: now}, nil
}

// ForgetUser hard-deletes every credential of user, for user removal.
// Audit entries are kept.
func (v *Vault) ForgetUser(ctx context.Context, user string) (int64, error) {
	n, err := v.store.DeleteAllForUser(ctx, user)
	if err != nil {
		return 0, storeErr(err)
	}
	v.log.Info("user credentials removed", "userId", user, "count", n)
	return n, nil
}

// storeErr keeps typed errors and wraps anything else as internal.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal("credential storage failure", err)
}
