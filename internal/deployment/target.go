package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/cache"
	"github.com/nikhilbhutani/promptops/internal/models"
)

// ErrNoPointer is returned by Lookup when no live pointer is stored.
var ErrNoPointer = errors.New("no live pointer")

// Target is the external system a deployment is rolled out to.
type Target interface {
	Activate(ctx context.Context, d *models.Deployment) error
	// Revert undoes Activate after the store refused the activation.
	// previous is nil when nothing was live before.
	Revert(ctx context.Context, failed, previous *models.Deployment) error
}

// Publisher is implemented by targets that mirror the committed live
// deployment of each pair.
type Publisher interface {
	// Publish runs after the store commit. A pointer is never replaced by
	// one with an earlier activation time.
	Publish(ctx context.Context, d *models.Deployment) error
	// Forget drops the pointers of every environment of promptID.
	Forget(ctx context.Context, ownerID string, promptID uuid.UUID) error
}

// PointerReader is implemented by targets that can answer live lookups.
type PointerReader interface {
	Lookup(ctx context.Context, ownerID string, promptID, environmentID uuid.UUID) (*LivePointer, error)
}

// LivePointer names the deployment serving a (prompt, environment) pair.
type LivePointer struct {
	DeploymentID uuid.UUID `json:"deployment_id"`
	VersionID    uuid.UUID `json:"version_id"`
	ActivatedAt  time.Time `json:"activated_at"`
}

func pointerFor(d *models.Deployment) LivePointer {
	p := LivePointer{DeploymentID: d.ID, VersionID: d.VersionID}
	if d.DeployedAt != nil {
		p.ActivatedAt = *d.DeployedAt
	}
	return p
}

// NoopTarget accepts every activation.
type NoopTarget struct{}

func (NoopTarget) Activate(context.Context, *models.Deployment) error { return nil }

func (NoopTarget) Revert(context.Context, *models.Deployment, *models.Deployment) error {
	return nil
}

// RedisTarget publishes the live pointer of each pair to Redis so the
// inference path can resolve deployments without touching the database.
// Nothing is written until the store has committed the activation.
type RedisTarget struct {
	cache *cache.Cache
}

func NewRedisTarget(c *cache.Cache) *RedisTarget {
	return &RedisTarget{cache: c}
}

// Activate refuses the rollout while Redis is unreachable.
func (t *RedisTarget) Activate(ctx context.Context, _ *models.Deployment) error {
	if err := t.cache.Ping(ctx); err != nil {
		return fmt.Errorf("live pointer store unavailable: %w", err)
	}
	return nil
}

// Revert is a no-op: Activate writes nothing.
func (t *RedisTarget) Revert(context.Context, *models.Deployment, *models.Deployment) error {
	return nil
}

func (t *RedisTarget) Publish(ctx context.Context, d *models.Deployment) error {
	if d.DeployedAt == nil {
		return fmt.Errorf("publish live pointer: deployment %s has no activation time", d.ID)
	}
	key := liveKey(d.OwnerID, d.PromptID, d.EnvironmentID)
	written, err := t.cache.SetIfNewer(ctx, key, pointerFor(d), d.DeployedAt.UnixMicro())
	if err != nil {
		// a pointer we could not update must not keep answering; the version
		// stays so an older activation still cannot take the slot
		if derr := t.cache.Delete(ctx, key); derr != nil {
			err = errors.Join(err, derr)
		}
		return fmt.Errorf("publish live pointer: %w", err)
	}
	if !written {
		slog.Debug("live pointer already newer", "deployment_id", d.ID)
	}
	return nil
}

func (t *RedisTarget) Forget(ctx context.Context, ownerID string, promptID uuid.UUID) error {
	if _, err := t.cache.DeleteMatching(ctx, fmt.Sprintf("live:%s:%s:*", ownerID, promptID)); err != nil {
		return fmt.Errorf("forget live pointers: %w", err)
	}
	return nil
}

func (t *RedisTarget) Lookup(ctx context.Context, ownerID string, promptID, environmentID uuid.UUID) (*LivePointer, error) {
	var p LivePointer
	err := t.cache.Get(ctx, liveKey(ownerID, promptID, environmentID), &p)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNoPointer
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func liveKey(ownerID string, promptID, envID uuid.UUID) string {
	return fmt.Sprintf("live:%s:%s:%s", ownerID, promptID, envID)
}
