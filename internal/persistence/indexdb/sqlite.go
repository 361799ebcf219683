package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"scenekeeper.ai/internal/events"
)

// SQLiteIndex is a queryable read model of the event bus: every event as a
// row plus one row per scene load. Writes are queued and applied by a
// single writer goroutine; the compressed event log remains the source of
// truth, so a full queue drops rows instead of stalling the tick loop.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents atomic.Uint64
	written    atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSync
)

type req struct {
	kind  reqKind
	event eventRow
	done  chan struct{}
}

type eventRow struct {
	events.Event
	RecordedAt string
}

// Stats reports queue health.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Written       uint64
	DropEvents    uint64
}

const DefaultQueueSize = 4096

func OpenSQLite(path string, queueSize int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:   db,
		ch:   make(chan req, queueSize),
		quit: make(chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			scene TEXT,
			load_id TEXT,
			reason TEXT,
			world_state TEXT,
			gui_state TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_tick ON events(kind, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_load ON events(load_id);`,
		`CREATE TABLE IF NOT EXISTS loads (
			load_id TEXT PRIMARY KEY,
			replaced_scene TEXT,
			started_tick INTEGER NOT NULL,
			scene TEXT,
			finished_tick INTEGER,
			outcome TEXT,
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_loads_started ON loads(started_tick);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// OnEvent queues e for indexing.
func (s *SQLiteIndex) OnEvent(e events.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	r := req{kind: reqEvent, event: eventRow{Event: e, RecordedAt: time.Now().UTC().Format(time.RFC3339Nano)}}
	select {
	case s.ch <- r:
	default:
		s.dropEvents.Add(1)
	}
}

// Sync waits until everything queued so far is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-s.quit:
		return errors.New("index closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return errors.New("index closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Written:       s.written.Load(),
		DropEvents:    s.dropEvents.Load(),
	}
}

// EventRecord is an indexed event.
type EventRecord struct {
	ID         int64  `json:"id"`
	Tick       uint64 `json:"tick"`
	Kind       string `json:"kind"`
	Scene      string `json:"scene,omitempty"`
	LoadID     string `json:"load_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	WorldState string `json:"world_state,omitempty"`
	GuiState   string `json:"gui_state,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// LoadRecord summarizes one scene transition.
type LoadRecord struct {
	LoadID        string `json:"load_id"`
	ReplacedScene string `json:"replaced_scene,omitempty"`
	StartedTick   uint64 `json:"started_tick"`
	Scene         string `json:"scene,omitempty"`
	FinishedTick  uint64 `json:"finished_tick,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// RecentEvents returns up to limit events, newest first. An empty kind
// matches every kind.
func (s *SQLiteIndex) RecentEvents(ctx context.Context, kind string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,tick,kind,COALESCE(scene,''),COALESCE(load_id,''),COALESCE(reason,''),
			COALESCE(world_state,''),COALESCE(gui_state,''),recorded_at
		FROM events WHERE (?='' OR kind=?) ORDER BY id DESC LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var tick int64
		if err := rows.Scan(&r.ID, &tick, &r.Kind, &r.Scene, &r.LoadID, &r.Reason, &r.WorldState, &r.GuiState, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Loads returns up to limit scene transitions, newest first.
func (s *SQLiteIndex) Loads(ctx context.Context, limit int) ([]LoadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT load_id,COALESCE(replaced_scene,''),started_tick,COALESCE(scene,''),
			COALESCE(finished_tick,0),COALESCE(outcome,''),COALESCE(reason,'')
		FROM loads ORDER BY started_tick DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoadRecord
	for rows.Next() {
		var r LoadRecord
		var started, finished int64
		if err := rows.Scan(&r.LoadID, &r.ReplacedScene, &started, &r.Scene, &finished, &r.Outcome, &r.Reason); err != nil {
			return nil, err
		}
		r.StartedTick, r.FinishedTick = uint64(started), uint64(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadOutcome maps terminal lifecycle events onto the loads table.
func loadOutcome(k events.Kind) (string, bool) {
	switch k {
	case events.SceneLoaded:
		return "loaded", true
	case events.SceneLoadFailed:
		return "failed", true
	case events.InvalidSceneShape:
		return "invalid_shape", true
	}
	return "", false
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO events(tick,kind,scene,load_id,reason,world_state,gui_state,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	startLoad, _ := s.db.Prepare(`INSERT OR IGNORE INTO loads(load_id,replaced_scene,started_tick) VALUES(?,?,?)`)
	finishLoad, _ := s.db.Prepare(`UPDATE loads SET scene=?, finished_tick=?, outcome=?, reason=? WHERE load_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, startLoad, finishLoad} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	ticker := time.NewTicker(commitMaxWait / 4)
	defer ticker.Stop()

	apply := func(r req) {
		if r.kind == reqSync {
			commit()
			close(r.done)
			return
		}
		begin()
		if tx == nil {
			return
		}
		e := r.event
		if insertEvent != nil {
			if _, err := tx.Stmt(insertEvent).Exec(
				int64(e.Tick),
				string(e.Kind),
				e.Scene,
				e.LoadID,
				e.Reason,
				e.WorldState,
				e.GuiState,
				e.RecordedAt,
			); err != nil {
				rollback()
				return
			}
			opCount++
			s.written.Add(1)
		}
		if e.LoadID != "" {
			if e.Kind == events.SceneUnloaded && startLoad != nil {
				if _, err := tx.Stmt(startLoad).Exec(e.LoadID, e.Scene, int64(e.Tick)); err != nil {
					rollback()
					return
				}
				opCount++
			}
			if outcome, ok := loadOutcome(e.Kind); ok && finishLoad != nil {
				if _, err := tx.Stmt(finishLoad).Exec(e.Scene, int64(e.Tick), outcome, e.Reason, e.LoadID); err != nil {
					rollback()
					return
				}
				opCount++
			}
		}
		// Readers share the single connection, so an idle queue commits.
		if len(s.ch) == 0 {
			commit()
			return
		}
		flushIfNeeded()
	}

	for {
		select {
		case r := <-s.ch:
			apply(r)
		case <-ticker.C:
			flushIfNeeded()
		case <-s.quit:
			for {
				select {
				case r := <-s.ch:
					apply(r)
				default:
					commit()
					return
				}
			}
		}
	}
}
