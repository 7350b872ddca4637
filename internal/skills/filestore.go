package skills

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	metadataFile        = "metadata.yaml"
	legacyMetadataFile  = "metadata.json"
	applicationsSuffix  = "_applications.jsonl"
	feedbackSuffix      = ".jsonl"
	bulkReadConcurrency = 8
	maxJSONLLineBytes   = 4 << 20
	backendFile         = "file"
)

var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Option configures a store.
type Option func(*storeOptions)

type storeOptions struct {
	logger *zap.Logger
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *storeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FileStore keeps skills as per-skill directories and logs as JSONL files.
// Reads take shared advisory locks and writes take exclusive ones, so
// several processes may share the same directories.
type FileStore struct {
	skillsDir   string
	feedbackDir string
	logger      *zap.Logger

	keyed sync.Map // lock key -> *sync.Mutex

	mu         sync.RWMutex
	cache      map[string]*LearnedSkill
	cacheValid bool
	generation uint64 // bumped by invalidate

	watcher *fsnotify.Watcher
	stop    chan struct{}
	closed  atomic.Bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directories if needed.
func NewFileStore(skillsDir, feedbackDir string, opts ...Option) (*FileStore, error) {
	if skillsDir == "" || feedbackDir == "" {
		return nil, errors.New("skills: skills and feedback directories are required")
	}
	for _, dir := range []string{skillsDir, feedbackDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	o := applyOptions(opts)
	return &FileStore{
		skillsDir:   skillsDir,
		feedbackDir: feedbackDir,
		logger:      o.logger.Named("skills.file"),
		stop:        make(chan struct{}),
	}, nil
}

// SkillsDir returns the directory holding skill records.
func (s *FileStore) SkillsDir() string { return s.skillsDir }

// LockScope implements Store. The file store locks exactly one file.
func (s *FileStore) LockScope(r Resource) []string {
	return []string{s.pathFor(r)}
}

func (s *FileStore) pathFor(r Resource) string {
	switch r.Kind {
	case ResourceSkill:
		return filepath.Join(s.skillsDir, r.ID, metadataFile)
	case ResourceApplications:
		return filepath.Join(s.feedbackDir, r.ID+applicationsSuffix)
	default:
		return filepath.Join(s.feedbackDir, r.ID+feedbackSuffix)
	}
}

func (s *FileStore) keyedLock(key string) func() {
	v, _ := s.keyed.LoadOrStore(key, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func checkID(kind, id string) error {
	if !safeIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid %s id %q", ErrInvalidSkill, kind, id)
	}
	return nil
}

func (s *FileStore) checkOpen() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

// writeLocked replaces path's content while holding an exclusive lock on it.
func (s *FileStore) writeLocked(path string, data []byte) error {
	unlock := s.keyedLock(path)
	defer unlock()
	return writeExclusive(path, data)
}

// writeExclusive truncates and rewrites path under an exclusive flock.
func writeExclusive(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	waitStart := time.Now()
	if err := lockFile(f, true); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	LockWait.Observe(time.Since(waitStart).Seconds())
	defer func() { _ = unlockFile(f) }()

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// removeExclusive deletes dir while holding an exclusive lock on lockPath,
// so readers and writers in other processes never see a half-removed record.
func removeExclusive(dir, lockPath string) error {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return os.RemoveAll(dir)
	case err != nil:
		return err
	}
	defer f.Close()

	waitStart := time.Now()
	if err := lockFile(f, true); err != nil {
		return fmt.Errorf("locking %s: %w", lockPath, err)
	}
	LockWait.Observe(time.Since(waitStart).Seconds())
	defer func() { _ = unlockFile(f) }()

	return os.RemoveAll(dir)
}

// appendLocked appends one line to path while holding an exclusive lock.
func (s *FileStore) appendLocked(path string, line []byte) error {
	unlock := s.keyedLock(path)
	defer unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	waitStart := time.Now()
	if err := lockFile(f, true); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	LockWait.Observe(time.Since(waitStart).Seconds())
	defer func() { _ = unlockFile(f) }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// readLocked reads path under a shared lock.
func readLocked(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := lockFile(f, false); err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	defer func() { _ = unlockFile(f) }()

	return io.ReadAll(f)
}

// SaveSkill writes metadata.yaml and SKILL.md for skill.
func (s *FileStore) SaveSkill(ctx context.Context, skill *LearnedSkill) (err error) {
	defer observe(backendFile, "save_skill", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := skill.Validate(); err != nil {
		return err
	}
	if err := checkID("skill", skill.SkillID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	meta, err := yaml.Marshal(skill)
	if err != nil {
		return fmt.Errorf("marshaling skill %s: %w", skill.SkillID, err)
	}
	doc, err := RenderDocument(skill)
	if err != nil {
		return err
	}

	s.invalidate()
	defer s.invalidate()

	dir := filepath.Join(s.skillsDir, skill.SkillID)
	if err := s.writeLocked(filepath.Join(dir, metadataFile), meta); err != nil {
		return fmt.Errorf("writing metadata for %s: %w", skill.SkillID, err)
	}
	if err := s.writeLocked(filepath.Join(dir, DocumentFile), doc); err != nil {
		return fmt.Errorf("writing document for %s: %w", skill.SkillID, err)
	}

	s.logger.Debug("skill saved",
		zap.String("skill_id", skill.SkillID),
		zap.Float64("quality_score", skill.QualityScore),
		zap.Bool("promoted", skill.Promoted))
	return nil
}

// GetSkill loads one skill.
func (s *FileStore) GetSkill(ctx context.Context, id string) (sk *LearnedSkill, err error) {
	defer observe(backendFile, "get_skill", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkID("skill", id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.cacheValid {
		cached, ok := s.cache[id]
		s.mu.RUnlock()
		CacheLookups.WithLabelValues("hit").Inc()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
		}
		return cached.Clone(), nil
	}
	s.mu.RUnlock()
	CacheLookups.WithLabelValues("miss").Inc()

	return s.loadSkill(id)
}

func (s *FileStore) loadSkill(id string) (*LearnedSkill, error) {
	dir := filepath.Join(s.skillsDir, id)

	data, err := readLocked(filepath.Join(dir, metadataFile))
	if err == nil {
		var sk LearnedSkill
		if err := yaml.Unmarshal(data, &sk); err != nil {
			return nil, fmt.Errorf("%w: parsing %s metadata: %v", ErrInvalidSkill, id, err)
		}
		if err := sk.Validate(); err != nil {
			return nil, err
		}
		return &sk, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	data, err = readLocked(filepath.Join(dir, legacyMetadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var sk LearnedSkill
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("%w: parsing %s metadata: %v", ErrInvalidSkill, id, err)
	}
	if err := sk.Validate(); err != nil {
		return nil, err
	}
	return &sk, nil
}

// DeleteSkill removes a skill directory.
func (s *FileStore) DeleteSkill(ctx context.Context, id string) (err error) {
	defer observe(backendFile, "delete_skill", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := checkID("skill", id); err != nil {
		return err
	}
	dir := filepath.Join(s.skillsDir, id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}

	metaPath := filepath.Join(dir, metadataFile)
	unlock := s.keyedLock(metaPath)
	defer unlock()
	s.invalidate()
	defer s.invalidate()
	return removeExclusive(dir, metaPath)
}

// ListSkills returns every readable skill. Unreadable records are skipped.
func (s *FileStore) ListSkills(ctx context.Context) (out []*LearnedSkill, err error) {
	defer observe(backendFile, "list_skills", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	all, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out = make([]*LearnedSkill, 0, len(all))
	for _, sk := range all {
		out = append(out, sk.Clone())
	}
	sortByQuality(out)
	return out, nil
}

// snapshot returns the cached skill set, reloading it if stale. Callers must
// not mutate the returned records.
func (s *FileStore) snapshot(ctx context.Context) (map[string]*LearnedSkill, error) {
	s.mu.RLock()
	if s.cacheValid {
		c := s.cache
		s.mu.RUnlock()
		CacheLookups.WithLabelValues("hit").Inc()
		return c, nil
	}
	gen := s.generation
	s.mu.RUnlock()
	CacheLookups.WithLabelValues("miss").Inc()

	entries, err := os.ReadDir(s.skillsDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.skillsDir, err)
	}
	loaded := make(map[string]*LearnedSkill, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !safeIDPattern.MatchString(e.Name()) {
			continue
		}
		sk, err := s.loadSkill(e.Name())
		if err != nil {
			if !errors.Is(err, ErrSkillNotFound) {
				CorruptRecordsSkipped.WithLabelValues("skill").Inc()
				s.logger.Warn("skipping unreadable skill",
					zap.String("skill_id", e.Name()), zap.Error(err))
			}
			continue
		}
		loaded[sk.SkillID] = sk
	}

	// A write that landed while the directory was being read leaves loaded
	// stale; return it to this caller but do not cache it.
	s.mu.Lock()
	if s.generation == gen {
		s.cache = loaded
		s.cacheValid = true
	}
	s.mu.Unlock()
	return loaded, nil
}

func (s *FileStore) invalidate() {
	s.mu.Lock()
	s.generation++
	s.cacheValid = false
	s.cache = nil
	s.mu.Unlock()
}

// PromotedSkills returns promoted skills ordered by quality.
func (s *FileStore) PromotedSkills(ctx context.Context) ([]*LearnedSkill, error) {
	return s.SearchSkills(ctx, SearchQuery{PromotedOnly: true})
}

// SkillsByDomain returns skills in domain ordered by quality.
func (s *FileStore) SkillsByDomain(ctx context.Context, domain string) ([]*LearnedSkill, error) {
	return s.SearchSkills(ctx, SearchQuery{Domain: domain})
}

// SearchSkills filters skills by q.
func (s *FileStore) SearchSkills(ctx context.Context, q SearchQuery) ([]*LearnedSkill, error) {
	all, err := s.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	return filterSkills(all, q), nil
}

// SaveFeedback appends one iteration record to the session log.
func (s *FileStore) SaveFeedback(ctx context.Context, fb *IterationFeedback) (err error) {
	defer observe(backendFile, "save_feedback", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	if fb == nil {
		return errors.New("skills: nil feedback")
	}
	if err := checkID("session", fb.SessionID); err != nil {
		return err
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshaling feedback: %w", err)
	}
	return s.appendLocked(s.pathFor(Resource{Kind: ResourceFeedback, ID: fb.SessionID}), line)
}

// SessionFeedback reads a session log in write order. Missing logs yield an
// empty slice.
func (s *FileStore) SessionFeedback(ctx context.Context, sessionID string) (out []IterationFeedback, err error) {
	defer observe(backendFile, "session_feedback", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkID("session", sessionID); err != nil {
		return nil, err
	}
	return readJSONL[IterationFeedback](s.logger, s.pathFor(Resource{Kind: ResourceFeedback, ID: sessionID}), "feedback")
}

// RecordApplication appends to the skill's application log.
func (s *FileStore) RecordApplication(ctx context.Context, app *SkillApplication) (err error) {
	defer observe(backendFile, "record_application", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return err
	}
	if app == nil {
		return errors.New("skills: nil application")
	}
	if err := checkID("skill", app.SkillID); err != nil {
		return err
	}
	if app.AppliedAt.IsZero() {
		app.AppliedAt = time.Now().UTC()
	}
	line, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshaling application: %w", err)
	}
	return s.appendLocked(s.pathFor(Resource{Kind: ResourceApplications, ID: app.SkillID}), line)
}

// Effectiveness summarizes one skill's application log.
func (s *FileStore) Effectiveness(ctx context.Context, skillID string) (e *Effectiveness, err error) {
	defer observe(backendFile, "effectiveness", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkID("skill", skillID); err != nil {
		return nil, err
	}
	apps, err := s.applications(skillID)
	if err != nil {
		return nil, err
	}
	return summarize(skillID, apps), nil
}

func (s *FileStore) applications(skillID string) ([]SkillApplication, error) {
	return readJSONL[SkillApplication](s.logger, s.pathFor(Resource{Kind: ResourceApplications, ID: skillID}), "application")
}

// BulkEffectiveness reads several application logs concurrently.
func (s *FileStore) BulkEffectiveness(ctx context.Context, skillIDs []string) (out map[string]*Effectiveness, err error) {
	defer observe(backendFile, "bulk_effectiveness", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	for _, id := range skillIDs {
		if err := checkID("skill", id); err != nil {
			return nil, err
		}
	}

	out = make(map[string]*Effectiveness, len(skillIDs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkReadConcurrency)
	for _, id := range skillIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			apps, err := s.applications(id)
			if err != nil {
				return fmt.Errorf("reading applications for %s: %w", id, err)
			}
			e := summarize(id, apps)
			mu.Lock()
			out[id] = e
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats summarizes skills and logs.
func (s *FileStore) Stats(ctx context.Context) (st *Stats, err error) {
	defer observe(backendFile, "stats", time.Now(), &err)
	list, err := s.ListSkills(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.feedbackDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.feedbackDir, err)
	}
	var feedback int
	var apps []SkillApplication
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, feedbackSuffix) {
			continue
		}
		path := filepath.Join(s.feedbackDir, name)
		if strings.HasSuffix(name, applicationsSuffix) {
			a, err := readJSONL[SkillApplication](s.logger, path, "application")
			if err != nil {
				return nil, err
			}
			apps = append(apps, a...)
			continue
		}
		fb, err := readJSONL[IterationFeedback](s.logger, path, "feedback")
		if err != nil {
			return nil, err
		}
		feedback += len(fb)
	}
	return computeStats(list, feedback, apps), nil
}

// Watch invalidates the skill cache whenever another writer changes the
// skills directory. It returns once the watcher is running and stops when
// ctx ends or the store closes.
func (s *FileStore) Watch(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(s.skillsDir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", s.skillsDir, err)
	}
	entries, _ := os.ReadDir(s.skillsDir)
	for _, e := range entries {
		if e.IsDir() {
			_ = w.Add(filepath.Join(s.skillsDir, e.Name()))
		}
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		_ = w.Close()
		return nil
	}
	s.watcher = w
	s.mu.Unlock()

	go s.watchLoop(ctx, w)
	return nil
}

func (s *FileStore) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			s.invalidate()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("skills watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher. Further calls return ErrStoreClosed.
func (s *FileStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

// readJSONL decodes one record per line, skipping lines that do not parse.
func readJSONL[T any](logger *zap.Logger, path, kind string) ([]T, error) {
	data, err := readLocked(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := []T{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxJSONLLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			CorruptRecordsSkipped.WithLabelValues(kind).Inc()
			logger.Warn("skipping corrupt record",
				zap.String("path", path), zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}

// DocumentPath returns where SKILL.md for id lives.
func (s *FileStore) DocumentPath(id string) string {
	return filepath.Join(s.skillsDir, id, DocumentFile)
}
