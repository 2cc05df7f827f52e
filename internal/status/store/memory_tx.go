package store

import (
	"context"
	"sync"
	"time"

	"smregister/internal/status/models"
	dErrors "smregister/pkg/domain-errors"
)

// numCertificateShards spreads certificate locks so unrelated certificates rarely contend.
const numCertificateShards = 128

// InMemoryTx runs units of work over an InMemoryStore. LockCertificate takes a sharded
// lock held until the unit of work ends, and every write records an undo step that is
// replayed when fn fails. Readers outside the unit of work may observe uncommitted writes.
type InMemoryTx struct {
	shards  [numCertificateShards]sync.Mutex
	store   *InMemoryStore
	timeout time.Duration
}

// NewInMemoryTx creates a transaction runner over store.
func NewInMemoryTx(store *InMemoryStore) *InMemoryTx {
	return &InMemoryTx{store: store, timeout: defaultTxTimeout}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	unit := &memoryUnit{tx: t, store: t.store, held: make(map[int]bool)}
	defer unit.release()

	if err := fn(ctx, unit); err != nil {
		unit.rollback()
		return err
	}
	return nil
}

// memoryUnit is the Store handed to fn inside InMemoryTx.RunInTx.
type memoryUnit struct {
	tx    *InMemoryTx
	store *InMemoryStore
	held  map[int]bool
	undo  []func()
}

func (u *memoryUnit) LockCertificate(ctx context.Context, certificateID string) error {
	shard := int(hashCertificateID(certificateID) % numCertificateShards)
	if u.held[shard] {
		return nil
	}
	u.tx.shards[shard].Lock()
	u.held[shard] = true

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return nil
}

func (u *memoryUnit) release() {
	for shard := range u.held {
		u.tx.shards[shard].Unlock()
	}
	u.held = nil
}

func (u *memoryUnit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *memoryUnit) LatestStatus(ctx context.Context, certificateID string) (*models.StatusRecord, error) {
	return u.store.LatestStatus(ctx, certificateID)
}

func (u *memoryUnit) HasStatus(ctx context.Context, ev models.StatusEvent) (bool, error) {
	return u.store.HasStatus(ctx, ev)
}

func (u *memoryUnit) InsertStatus(_ context.Context, ev models.StatusEvent) error {
	u.undo = append(u.undo, u.store.insertStatus(ev))
	return nil
}

func (u *memoryUnit) ListStatuses(ctx context.Context, certificateID string) ([]models.StatusRecord, error) {
	return u.store.ListStatuses(ctx, certificateID)
}

func (u *memoryUnit) InsertAttribution(_ context.Context, a models.EmployerAttribution) error {
	u.undo = append(u.undo, u.store.insertAttribution(a))
	return nil
}

func (u *memoryUnit) LatestAttribution(ctx context.Context, certificateID string) (*models.EmployerAttribution, error) {
	return u.store.LatestAttribution(ctx, certificateID)
}

func (u *memoryUnit) SaveQuestionAnswer(_ context.Context, certificateID string, q models.Question) error {
	u.undo = append(u.undo, u.store.saveQuestionAnswer(certificateID, q))
	return nil
}

func (u *memoryUnit) DeleteAnswers(_ context.Context, certificateID string) error {
	u.undo = append(u.undo, u.store.deleteAnswers(certificateID))
	return nil
}

func (u *memoryUnit) ListAnswers(ctx context.Context, certificateID string) ([]models.Question, error) {
	return u.store.ListAnswers(ctx, certificateID)
}

func (u *memoryUnit) RegisterCertificate(_ context.Context, c models.Certificate) error {
	u.undo = append(u.undo, u.store.registerCertificate(c))
	return nil
}

func (u *memoryUnit) ListVisibleForPerson(ctx context.Context, personID string) ([]models.CertificateView, error) {
	return u.store.ListVisibleForPerson(ctx, personID)
}

func (u *memoryUnit) DeletePerson(_ context.Context, personID string) (int, error) {
	n, undo := u.store.deletePerson(personID)
	u.undo = append(u.undo, undo)
	return n, nil
}

// hashCertificateID is FNV-1a.
func hashCertificateID(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
