// ABOUTME: Badger-backed store with JSON values under per-kind key prefixes
// ABOUTME: Survives process restarts so stranded plans can be inherited

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/openstack/watcher-sub000/models"
)

const (
	prefixAudit     = "audit/"
	prefixPlan      = "plan/"
	prefixAction    = "action/"
	prefixIndicator = "indicator/"
)

// Badger is the persistent Store. Keys are <kind>/<uuid>; indicators key
// as indicator/<plan uuid>/<name> so a plan's indicators share a prefix.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at path. An empty path opens
// an in-memory database, used by tests.
func OpenBadger(path string) (*Badger, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %q: %w", path, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error { return b.db.Close() }

func (b *Badger) create(key string, v any) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return models.Invalid("%s already exists: %w", key, models.ErrConflict)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		return txn.Set([]byte(key), data)
	})
}

func (b *Badger) save(key string, v any) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.NotFound("object", key)
			}
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		return txn.Set([]byte(key), data)
	})
}

func (b *Badger) get(key string, out any) error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.NotFound("object", key)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// scan walks every value under prefix, handing raw JSON to fn.
func (b *Badger) scan(prefix string, fn func(val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) CreateAudit(a *models.Audit) error {
	return b.create(prefixAudit+a.UUID, a)
}

func (b *Badger) GetAudit(uuid string) (*models.Audit, error) {
	var a models.Audit
	if err := b.get(prefixAudit+uuid, &a); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NotFound("audit", uuid)
		}
		return nil, err
	}
	if !a.DeletedAt.IsZero() {
		return nil, models.NotFound("audit", uuid)
	}
	return &a, nil
}

func (b *Badger) SaveAudit(a *models.Audit) error {
	return b.save(prefixAudit+a.UUID, a)
}

func (b *Badger) ListAudits() ([]*models.Audit, error) {
	var out []*models.Audit
	err := b.scan(prefixAudit, func(val []byte) error {
		var a models.Audit
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		if a.DeletedAt.IsZero() {
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (b *Badger) SoftDeleteAudit(uuid string) error {
	a, err := b.GetAudit(uuid)
	if err != nil {
		return err
	}
	if err := a.TransitionTo(models.AuditDeleted); err != nil {
		return err
	}
	a.DeletedAt = time.Now().UTC()
	return b.save(prefixAudit+uuid, a)
}

func (b *Badger) CreatePlan(p *models.ActionPlan) error {
	return b.create(prefixPlan+p.UUID, p)
}

func (b *Badger) GetPlan(uuid string) (*models.ActionPlan, error) {
	var p models.ActionPlan
	if err := b.get(prefixPlan+uuid, &p); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NotFound("action plan", uuid)
		}
		return nil, err
	}
	if !p.DeletedAt.IsZero() {
		return nil, models.NotFound("action plan", uuid)
	}
	return &p, nil
}

func (b *Badger) SavePlan(p *models.ActionPlan) error {
	return b.save(prefixPlan+p.UUID, p)
}

func (b *Badger) ListPlans() ([]*models.ActionPlan, error) {
	var out []*models.ActionPlan
	err := b.scan(prefixPlan, func(val []byte) error {
		var p models.ActionPlan
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		if p.DeletedAt.IsZero() {
			out = append(out, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (b *Badger) ListPlansForAudit(auditUUID string) ([]*models.ActionPlan, error) {
	all, err := b.ListPlans()
	if err != nil {
		return nil, err
	}
	var out []*models.ActionPlan
	for _, p := range all {
		if p.AuditUUID == auditUUID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *Badger) SoftDeletePlan(uuid string) error {
	p, err := b.GetPlan(uuid)
	if err != nil {
		return err
	}
	if err := p.TransitionTo(models.PlanDeleted); err != nil {
		return err
	}
	p.DeletedAt = time.Now().UTC()
	return b.save(prefixPlan+uuid, p)
}

func (b *Badger) DeletePlan(uuid string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixPlan + uuid)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.NotFound("action plan", uuid)
			}
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		// Indicators live under the plan's prefix; drop them with it.
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixIndicator + uuid + "/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) CreateAction(a *models.Action) error {
	return b.create(prefixAction+a.UUID, a)
}

func (b *Badger) GetAction(uuid string) (*models.Action, error) {
	var a models.Action
	if err := b.get(prefixAction+uuid, &a); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NotFound("action", uuid)
		}
		return nil, err
	}
	return &a, nil
}

func (b *Badger) SaveAction(a *models.Action) error {
	return b.save(prefixAction+a.UUID, a)
}

func (b *Badger) ListActionsForPlan(planUUID string) ([]*models.Action, error) {
	var out []*models.Action
	err := b.scan(prefixAction, func(val []byte) error {
		var a models.Action
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		if a.PlanUUID == planUUID {
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *Badger) DeleteActionsForPlan(planUUID string) error {
	actions, err := b.ListActionsForPlan(planUUID)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, a := range actions {
			if err := txn.Delete([]byte(prefixAction + a.UUID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) CreateIndicator(i *models.EfficacyIndicator) error {
	key := fmt.Sprintf("%s%s/%s", prefixIndicator, i.PlanUUID, i.Name)
	return b.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(i)
		if err != nil {
			return fmt.Errorf("encoding indicator %s: %w", key, err)
		}
		return txn.Set([]byte(key), data)
	})
}

func (b *Badger) ListIndicatorsForPlan(planUUID string) ([]*models.EfficacyIndicator, error) {
	var out []*models.EfficacyIndicator
	err := b.scan(prefixIndicator+planUUID+"/", func(val []byte) error {
		var i models.EfficacyIndicator
		if err := json.Unmarshal(val, &i); err != nil {
			return err
		}
		out = append(out, &i)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
