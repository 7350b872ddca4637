package skills

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	backendBadger  = "badger"
	prefixSkill    = "skill/"
	prefixFeedback = "feedback/"
	prefixApp      = "app/"
	sequenceKey    = "meta/seq"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
}

// BadgerStore keeps skills and logs in an embedded Badger database. Each
// mutation is one transaction, so record-level atomicity holds without
// file locks.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger
	closed atomic.Bool
}

var _ Store = (*BadgerStore)(nil)

type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.sugar.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.sugar.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.sugar.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.sugar.Debugf(format, args...) }

// OpenBadgerStore opens or creates the database.
func OpenBadgerStore(cfg BadgerConfig, opts ...Option) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("skills: badger path is required for a persistent store")
	}
	o := applyOptions(opts)
	logger := o.logger.Named("skills.badger")

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating badger directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{sugar: logger.Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("allocating sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, logger: logger}, nil
}

// LockScope implements Store. Badger serializes conflicting transactions
// on the touched key range.
func (s *BadgerStore) LockScope(r Resource) []string {
	switch r.Kind {
	case ResourceSkill:
		return []string{prefixSkill + r.ID}
	case ResourceApplications:
		return []string{prefixApp + r.ID + "/"}
	default:
		return []string{prefixFeedback + r.ID + "/"}
	}
}

func (s *BadgerStore) checkOpen() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func (s *BadgerStore) nextKey(prefix string) ([]byte, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, err
	}
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], n)
	return key, nil
}

func (s *BadgerStore) put(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// scan decodes every value under prefix in key order.
func scan[T any](ctx context.Context, s *BadgerStore, prefix, kind string) ([]T, error) {
	out := []T{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec T
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				CorruptRecordsSkipped.WithLabelValues(kind).Inc()
				s.logger.Warn("skipping corrupt record",
					zap.ByteString("key", item.KeyCopy(nil)), zap.Error(err))
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// SaveSkill implements Store.
func (s *BadgerStore) SaveSkill(ctx context.Context, skill *LearnedSkill) (err error) {
	defer observe(backendBadger, "save_skill", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := skill.Validate(); err != nil {
		return err
	}
	return s.put(ctx, []byte(prefixSkill+skill.SkillID), skill)
}

// GetSkill implements Store.
func (s *BadgerStore) GetSkill(ctx context.Context, id string) (sk *LearnedSkill, err error) {
	defer observe(backendBadger, "get_skill", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out LearnedSkill
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSkill + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSkillNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &out); err != nil {
				return fmt.Errorf("%w: decoding %s: %v", ErrInvalidSkill, id, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSkill implements Store.
func (s *BadgerStore) DeleteSkill(ctx context.Context, id string) (err error) {
	defer observe(backendBadger, "delete_skill", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := []byte(prefixSkill + id)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSkillNotFound, id)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// ListSkills implements Store.
func (s *BadgerStore) ListSkills(ctx context.Context) (out []*LearnedSkill, err error) {
	defer observe(backendBadger, "list_skills", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	recs, err := scan[LearnedSkill](ctx, s, prefixSkill, "skill")
	if err != nil {
		return nil, err
	}
	out = make([]*LearnedSkill, len(recs))
	for i := range recs {
		out[i] = &recs[i]
	}
	sortByQuality(out)
	return out, nil
}

// PromotedSkills implements Store.
func (s *BadgerStore) PromotedSkills(ctx context.Context) ([]*LearnedSkill, error) {
	return s.SearchSkills(ctx, SearchQuery{PromotedOnly: true})
}

// SkillsByDomain implements Store.
func (s *BadgerStore) SkillsByDomain(ctx context.Context, domain string) ([]*LearnedSkill, error) {
	return s.SearchSkills(ctx, SearchQuery{Domain: domain})
}

// SearchSkills implements Store.
func (s *BadgerStore) SearchSkills(ctx context.Context, q SearchQuery) ([]*LearnedSkill, error) {
	all, err := s.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	return filterSkills(all, q), nil
}

// SaveFeedback implements Store.
func (s *BadgerStore) SaveFeedback(ctx context.Context, fb *IterationFeedback) (err error) {
	defer observe(backendBadger, "save_feedback", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	if fb == nil || fb.SessionID == "" || strings.Contains(fb.SessionID, "/") {
		return errors.New("skills: feedback needs a session id")
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	key, err := s.nextKey(prefixFeedback + fb.SessionID + "/")
	if err != nil {
		return err
	}
	return s.put(ctx, key, fb)
}

// SessionFeedback implements Store.
func (s *BadgerStore) SessionFeedback(ctx context.Context, sessionID string) (out []IterationFeedback, err error) {
	defer observe(backendBadger, "session_feedback", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return scan[IterationFeedback](ctx, s, prefixFeedback+sessionID+"/", "feedback")
}

// RecordApplication implements Store.
func (s *BadgerStore) RecordApplication(ctx context.Context, app *SkillApplication) (err error) {
	defer observe(backendBadger, "record_application", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	if app == nil || app.SkillID == "" || strings.Contains(app.SkillID, "/") {
		return errors.New("skills: application needs a skill id")
	}
	if app.AppliedAt.IsZero() {
		app.AppliedAt = time.Now().UTC()
	}
	key, err := s.nextKey(prefixApp + app.SkillID + "/")
	if err != nil {
		return err
	}
	return s.put(ctx, key, app)
}

// Effectiveness implements Store.
func (s *BadgerStore) Effectiveness(ctx context.Context, skillID string) (e *Effectiveness, err error) {
	defer observe(backendBadger, "effectiveness", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	apps, err := scan[SkillApplication](ctx, s, prefixApp+skillID+"/", "application")
	if err != nil {
		return nil, err
	}
	return summarize(skillID, apps), nil
}

// BulkEffectiveness implements Store with a single read transaction.
func (s *BadgerStore) BulkEffectiveness(ctx context.Context, skillIDs []string) (out map[string]*Effectiveness, err error) {
	defer observe(backendBadger, "bulk_effectiveness", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(skillIDs))
	for _, id := range skillIDs {
		wanted[id] = true
	}
	apps, err := scan[SkillApplication](ctx, s, prefixApp, "application")
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]SkillApplication, len(skillIDs))
	for _, a := range apps {
		if wanted[a.SkillID] {
			grouped[a.SkillID] = append(grouped[a.SkillID], a)
		}
	}
	out = make(map[string]*Effectiveness, len(skillIDs))
	for _, id := range skillIDs {
		out[id] = summarize(id, grouped[id])
	}
	return out, nil
}

// Stats implements Store.
func (s *BadgerStore) Stats(ctx context.Context) (st *Stats, err error) {
	defer observe(backendBadger, "stats", time.Now(), &err)
	list, err := s.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	fb, err := scan[IterationFeedback](ctx, s, prefixFeedback, "feedback")
	if err != nil {
		return nil, err
	}
	apps, err := scan[SkillApplication](ctx, s, prefixApp, "application")
	if err != nil {
		return nil, err
	}
	return computeStats(list, len(fb), apps), nil
}

// Close releases the sequence and closes the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("releasing sequence", zap.Error(err))
	}
	return s.db.Close()
}
