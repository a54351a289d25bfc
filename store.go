package cogmem

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection for cognitive memory persistence: the
// memories table, its FTS5 shadow index, the link graph, the durable event
// queue, and sessions.
type Store struct {
	db       *sql.DB
	path     string
	lockPath string
}

// NewStore opens (or creates) the SQLite database, runs migrations, and
// writes an advisory lock file next to it.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("cogmem: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("cogmem: open db: %w", err)
	}

	// Single connection: this process is the sole writer, and serializing
	// every statement through one connection gives us BEGIN IMMEDIATE
	// semantics for free without fighting database/sql's pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, lockPath: path + ".lock"}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cogmem: migrate: %w", err)
	}
	if err := s.writeLockFile(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cogmem: lock file: %w", err)
	}
	return s, nil
}

func (s *Store) writeLockFile() error {
	contents := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(s.lockPath, []byte(contents), 0644)
}

// --- Schema ---

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS memories (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				type             TEXT    NOT NULL DEFAULT 'short_term',
				category         TEXT    NOT NULL DEFAULT 'note',
				title            TEXT    NOT NULL DEFAULT '',
				content          TEXT    NOT NULL,
				project          TEXT    NOT NULL DEFAULT '',
				tags             TEXT    NOT NULL DEFAULT '[]',
				salience         REAL    NOT NULL DEFAULT 0.25,
				access_count     INTEGER NOT NULL DEFAULT 0,
				last_accessed_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				created_at       TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				metadata         TEXT    NOT NULL DEFAULT '{}'
			);
			CREATE INDEX IF NOT EXISTS idx_memories_project  ON memories(project);
			CREATE INDEX IF NOT EXISTS idx_memories_type     ON memories(type);
			CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
		`); err != nil {
			return err
		}
		s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	}

	if version < 2 {
		// Columns the original sector-scoped schema never needed.
		s.db.Exec(`ALTER TABLE memories ADD COLUMN decayed_score REAL NOT NULL DEFAULT 0.25`)
		s.db.Exec(`ALTER TABLE memories ADD COLUMN embedding BLOB`)
		s.db.Exec(`ALTER TABLE memories ADD COLUMN scope TEXT NOT NULL DEFAULT 'project'`)
		s.db.Exec(`ALTER TABLE memories ADD COLUMN transferable INTEGER NOT NULL DEFAULT 0`)
		s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope)`)
		s.db.Exec(`INSERT INTO schema_version (version) VALUES (2)`)
	}

	if version < 3 {
		if _, err := s.db.Exec(`
			CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
				title, content, tags, content='memories', content_rowid='id'
			);
			CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
				INSERT INTO memories_fts(rowid, title, content, tags) VALUES (new.id, new.title, new.content, new.tags);
			END;
			CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, title, content, tags) VALUES('delete', old.id, old.title, old.content, old.tags);
			END;
			CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, title, content, tags) VALUES('delete', old.id, old.title, old.content, old.tags);
				INSERT INTO memories_fts(rowid, title, content, tags) VALUES (new.id, new.title, new.content, new.tags);
			END;
		`); err != nil {
			return err
		}
		s.db.Exec(`INSERT INTO schema_version (version) VALUES (3)`)
	}

	if version < 4 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS memory_links (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				source_id    INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				target_id    INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				relationship TEXT    NOT NULL DEFAULT 'related',
				strength     REAL    NOT NULL DEFAULT 0.5,
				created_at   TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				UNIQUE(source_id, target_id)
			);
			CREATE INDEX IF NOT EXISTS idx_links_source ON memory_links(source_id);
			CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);

			CREATE TABLE IF NOT EXISTS events (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				type      TEXT    NOT NULL,
				data      BLOB    NOT NULL DEFAULT '{}',
				timestamp TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				processed INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);

			CREATE TABLE IF NOT EXISTS sessions (
				id                TEXT PRIMARY KEY,
				project           TEXT NOT NULL DEFAULT '',
				started_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				ended_at          TEXT,
				summary           TEXT NOT NULL DEFAULT '',
				memories_created  INTEGER NOT NULL DEFAULT 0,
				memories_accessed INTEGER NOT NULL DEFAULT 0
			);

			PRAGMA foreign_keys = ON;
		`); err != nil {
			return err
		}
		s.db.Exec(`INSERT INTO schema_version (version) VALUES (4)`)
	}

	// modernc.org/sqlite requires foreign_keys to be enabled per-connection.
	s.db.Exec(`PRAGMA foreign_keys = ON`)
	return nil
}

// --- Vector encoding ---

// EncodeVector converts a float32 slice to a little-endian byte blob.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector converts a little-endian byte blob back to a float32 slice.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func marshalTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func unmarshalTags(s string) []string {
	var tags []string
	if s == "" {
		return nil
	}
	json.Unmarshal([]byte(s), &tags)
	return tags
}

func marshalMetadata(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func unmarshalMetadata(s string) map[string]string {
	m := map[string]string{}
	if s == "" {
		return m
	}
	json.Unmarshal([]byte(s), &m)
	return m
}

const memorySelectCols = `id, type, category, title, content, project, scope, transferable,
	tags, salience, decayed_score, access_count, last_accessed_at, created_at, embedding, metadata`

func scanMemory(scanner interface{ Scan(...any) error }) (Memory, error) {
	var m Memory
	var typ, cat, scope, tags, lastAccessed, created, metadata string
	var transferable int
	var embedding []byte

	if err := scanner.Scan(
		&m.ID, &typ, &cat, &m.Title, &m.Content, &m.Project, &scope, &transferable,
		&tags, &m.Salience, &m.DecayedScore, &m.AccessCount, &lastAccessed, &created,
		&embedding, &metadata,
	); err != nil {
		return m, err
	}

	m.Type = MemoryType(typ)
	m.Category = Category(cat)
	m.Scope = Scope(scope)
	m.Transferable = transferable != 0
	m.Tags = unmarshalTags(tags)
	m.LastAccessedAt = parseTime(lastAccessed)
	m.CreatedAt = parseTime(created)
	m.Metadata = unmarshalMetadata(metadata)
	if len(embedding) > 0 {
		m.Embedding = DecodeVector(embedding)
	}
	return m, nil
}

// --- Memory CRUD ---

// dbConn is the common surface of *sql.DB, *sql.Tx, and *Tx: every CRUD
// helper below is written once against this interface and exposed through
// both a plain entry point (running on the store's own connection, wrapped
// in its own transaction where atomicity matters) and a `...Tx` entry point
// that runs on a transaction an outer caller already holds open, so a
// multi-step caller like Consolidate can thread one transaction through
// every statement it issues.
type dbConn interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Insert stores a new memory, truncating oversize content, updating the FTS
// index synchronously (via trigger), and persisting a memory_created event
// in the same transaction.
func (s *Store) Insert(init MemoryInit, maxContentSize int) (int64, error) {
	content := init.Content
	if maxContentSize > 0 && len(content) > maxContentSize {
		content = content[:maxContentSize] + truncationMarker
	}

	typ := init.Type
	if typ == "" {
		typ = TypeShortTerm
	}
	scope := init.Scope
	if scope == "" {
		scope = ScopeProject
	}

	now := formatTime(time.Now())
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO memories (type, category, title, content, project, scope, transferable,
				tags, salience, decayed_score, access_count, last_accessed_at, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			string(typ), string(init.Category), init.Title, content, init.Project, string(scope),
			boolToInt(init.Transferable), marshalTags(init.Tags), init.Salience, init.Salience,
			now, now, marshalMetadata(init.Metadata),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return insertEventOn(tx, EventMemoryCreated, map[string]any{
			"id":    id,
			"title": init.Title,
		})
	})
	return id, err
}

// SetEmbedding persists the embedding blob for a memory, best-effort.
func (s *Store) SetEmbedding(id int64, vec []float32) error {
	_, err := s.db.Exec(`UPDATE memories SET embedding = ? WHERE id = ?`, EncodeVector(vec), id)
	return err
}

// updatableFields whitelists columns UpdateFields may touch.
var updatableFields = map[string]bool{
	"type": true, "category": true, "title": true, "content": true,
	"project": true, "scope": true, "transferable": true, "tags": true,
	"salience": true, "decayed_score": true, "access_count": true,
	"last_accessed_at": true, "embedding": true, "metadata": true,
}

// UpdateFields atomically updates the named columns and emits memory_updated.
func (s *Store) UpdateFields(id int64, fields map[string]any) error {
	return s.withTx(func(tx *sql.Tx) error {
		return updateFieldsOn(tx, id, fields)
	})
}

// UpdateFieldsTx is UpdateFields run on a transaction an outer caller already
// holds open, so it can be threaded into a larger atomic pass.
func (s *Store) UpdateFieldsTx(tx *Tx, id int64, fields map[string]any) error {
	return updateFieldsOn(tx, id, fields)
}

func updateFieldsOn(conn dbConn, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	var setClauses []string
	var args []any
	for col, val := range fields {
		if !updatableFields[col] {
			return fmt.Errorf("cogmem: %q is not an updatable column", col)
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, coerceFieldValue(col, val))
	}
	args = append(args, id)

	query := "UPDATE memories SET " + strings.Join(setClauses, ", ") + " WHERE id = ?"
	res, err := conn.Exec(query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &NotFoundError{Kind: "memory", ID: id}
	}
	return insertEventOn(conn, EventMemoryUpdated, map[string]any{"id": id, "fields": fieldKeys(fields)})
}

func fieldKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func coerceFieldValue(col string, val any) any {
	switch col {
	case "tags":
		if tags, ok := val.([]string); ok {
			return marshalTags(tags)
		}
	case "metadata":
		if md, ok := val.(map[string]string); ok {
			return marshalMetadata(md)
		}
	case "embedding":
		if vec, ok := val.([]float32); ok {
			return EncodeVector(vec)
		}
	case "transferable":
		if b, ok := val.(bool); ok {
			return boolToInt(b)
		}
	case "last_accessed_at":
		if t, ok := val.(time.Time); ok {
			return formatTime(t)
		}
	}
	return val
}

// Delete removes a memory (cascading its links via ON DELETE CASCADE) and
// emits memory_deleted with a title snapshot.
func (s *Store) Delete(id int64) (bool, error) {
	var deleted bool
	err := s.withTx(func(tx *sql.Tx) error {
		var delErr error
		deleted, delErr = deleteOn(tx, id)
		return delErr
	})
	return deleted, err
}

// DeleteTx is Delete run on a transaction an outer caller already holds open.
func (s *Store) DeleteTx(tx *Tx, id int64) (bool, error) {
	return deleteOn(tx, id)
}

func deleteOn(conn dbConn, id int64) (bool, error) {
	var title string
	err := conn.QueryRow(`SELECT title FROM memories WHERE id = ?`, id).Scan(&title)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	res, err := conn.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := insertEventOn(conn, EventMemoryDeleted, map[string]any{"id": id, "title": title}); err != nil {
		return false, err
	}
	return true, nil
}

// Get loads a single memory by id.
func (s *Store) Get(id int64) (*Memory, error) {
	return getOn(s.db, id)
}

// GetTx is Get run on a transaction an outer caller already holds open.
func (s *Store) GetTx(tx *Tx, id int64) (*Memory, error) {
	return getOn(tx, id)
}

func getOn(conn dbConn, id int64) (*Memory, error) {
	row := conn.QueryRow(`SELECT `+memorySelectCols+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// BulkSelect loads memories matching filter, ordered and paginated.
func (s *Store) BulkSelect(filter Filter, order string, limit, offset int) ([]Memory, error) {
	return bulkSelectOn(s.db, filter, order, limit, offset)
}

// BulkSelectTx is BulkSelect run on a transaction an outer caller already
// holds open.
func (s *Store) BulkSelectTx(tx *Tx, filter Filter, order string, limit, offset int) ([]Memory, error) {
	return bulkSelectOn(tx, filter, order, limit, offset)
}

func bulkSelectOn(conn dbConn, filter Filter, order string, limit, offset int) ([]Memory, error) {
	query, args := buildFilterQuery(`SELECT `+memorySelectCols+` FROM memories`, filter)
	if order == "" {
		order = "created_at DESC"
	}
	query += " ORDER BY " + order
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// buildFilterQuery appends WHERE clauses for a Filter to a base query.
func buildFilterQuery(base string, filter Filter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Project != "" {
		if filter.IncludeGlobal {
			clauses = append(clauses, "(project = ? OR scope = 'global')")
			args = append(args, filter.Project)
		} else {
			clauses = append(clauses, "project = ?")
			args = append(args, filter.Project)
		}
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.MinSalience > 0 {
		clauses = append(clauses, "salience >= ?")
		args = append(args, filter.MinSalience)
	}
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	for _, tag := range filter.Tags {
		// proper JSON-array membership test, not substring matching
		clauses = append(clauses, `EXISTS (SELECT 1 FROM json_each(tags) WHERE json_each.value = ?)`)
		args = append(args, tag)
	}

	query := base
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query, args
}

// --- FTS query sanitization ---

var ftsSpecialChars = regexp.MustCompile(`[-:*^()&|.]`)
var ftsBooleanWord = regexp.MustCompile(`(?i)^(AND|OR|NOT)$`)

// sanitizeFTSQuery quotes any token containing FTS5 operator characters, or
// that is itself a bare boolean keyword, so user queries can never be
// interpreted as FTS5 query-syntax operators. Plain tokens are turned into
// FTS5 prefix queries (token*) so a recall for "postgres" still surfaces a
// memory that only mentions "postgresql".
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return `""`
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		switch {
		case ftsSpecialChars.MatchString(f) || ftsBooleanWord.MatchString(f):
			f = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		default:
			f += "*"
		}
		quoted[i] = f
	}
	return strings.Join(quoted, " ")
}

// FTSRow pairs a memory with its BM25-style rank from the FTS5 query.
type FTSRow struct {
	Memory
	Rank float64
}

// FullTextSearch runs a sanitized FTS5 MATCH query joined with memories,
// applying filter constraints.
func (s *Store) FullTextSearch(query string, filter Filter, limit int) ([]FTSRow, error) {
	sanitized := sanitizeFTSQuery(query)

	base := `SELECT ` + prefixCols("m") + `, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.rowid
		WHERE memories_fts MATCH ?`
	args := []any{sanitized}

	if filter.Project != "" {
		if filter.IncludeGlobal {
			base += " AND (m.project = ? OR m.scope = 'global')"
			args = append(args, filter.Project)
		} else {
			base += " AND m.project = ?"
			args = append(args, filter.Project)
		}
	}
	if filter.Category != "" {
		base += " AND m.category = ?"
		args = append(args, string(filter.Category))
	}
	if filter.Type != "" {
		base += " AND m.type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.MinSalience > 0 {
		base += " AND m.salience >= ?"
		args = append(args, filter.MinSalience)
	}
	for _, tag := range filter.Tags {
		base += ` AND EXISTS (SELECT 1 FROM json_each(m.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}

	base += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(base, args...)
	if err != nil {
		return nil, &InvalidQueryError{Query: query, Reason: err.Error()}
	}
	defer rows.Close()

	var out []FTSRow
	for rows.Next() {
		var r FTSRow
		var typ, cat, scope, tags, lastAccessed, created, metadata string
		var transferable int
		var embedding []byte
		if err := rows.Scan(
			&r.ID, &typ, &cat, &r.Title, &r.Content, &r.Project, &scope, &transferable,
			&tags, &r.Salience, &r.DecayedScore, &r.AccessCount, &lastAccessed, &created,
			&embedding, &metadata, &r.Rank,
		); err != nil {
			return nil, err
		}
		r.Type = MemoryType(typ)
		r.Category = Category(cat)
		r.Scope = Scope(scope)
		r.Transferable = transferable != 0
		r.Tags = unmarshalTags(tags)
		r.LastAccessedAt = parseTime(lastAccessed)
		r.CreatedAt = parseTime(created)
		r.Metadata = unmarshalMetadata(metadata)
		if len(embedding) > 0 {
			r.Embedding = DecodeVector(embedding)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func prefixCols(alias string) string {
	cols := strings.Split(memorySelectCols, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// --- Transactions ---

func (s *Store) withTx(f func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Tx is the transactional handle passed to WithTransaction and
// WithImmediateTransaction callbacks. database/sql's *sql.Tx has no knob for
// transaction mode (BEGIN vs BEGIN IMMEDIATE), so both entry points issue the
// raw BEGIN statement themselves on the store's single pinned connection and
// route subsequent statements through it directly.
type Tx struct {
	db *sql.DB
}

func (t *Tx) Exec(query string, args ...any) (sql.Result, error) { return t.db.Exec(query, args...) }
func (t *Tx) Query(query string, args ...any) (*sql.Rows, error) { return t.db.Query(query, args...) }
func (t *Tx) QueryRow(query string, args ...any) *sql.Row        { return t.db.QueryRow(query, args...) }

// WithTransaction runs f inside an ordinary transaction, rolling back on any
// error.
func (s *Store) WithTransaction(f func(tx *Tx) error) error {
	return s.runTx("BEGIN", f)
}

// WithImmediateTransaction runs f inside a transaction that acquires the
// write lock eagerly (BEGIN IMMEDIATE), rolling back on any error.
func (s *Store) WithImmediateTransaction(f func(tx *Tx) error) error {
	return s.runTx("BEGIN IMMEDIATE", f)
}

func (s *Store) runTx(beginStmt string, f func(tx *Tx) error) (err error) {
	if _, execErr := s.db.Exec(beginStmt); execErr != nil {
		return execErr
	}
	defer func() {
		if r := recover(); r != nil {
			s.db.Exec("ROLLBACK")
			panic(r)
		}
	}()
	if err = f(&Tx{db: s.db}); err != nil {
		s.db.Exec("ROLLBACK")
		return err
	}
	_, err = s.db.Exec("COMMIT")
	return err
}

// --- WAL / size management ---

// CheckpointWAL truncates the write-ahead log, returning pages written.
func (s *Store) CheckpointWAL() (int, error) {
	row := s.db.QueryRow(`PRAGMA wal_checkpoint(TRUNCATE)`)
	var busy, logFrames, checkpointed int
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
		return 0, err
	}
	return checkpointed, nil
}

// Vacuum rebuilds the database file to reclaim space.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}

// SizeInfo stats the database file (plus -wal/-shm siblings) and flags
// warning/blocked thresholds.
func (s *Store) SizeInfo() (SizeInfo, error) {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if fi, err := os.Stat(s.path + suffix); err == nil {
			total += fi.Size()
		}
	}

	info := SizeInfo{Bytes: total}
	switch {
	case total > sizeBlockedBytes:
		info.Blocked = true
		info.Message = fmt.Sprintf("database at %s exceeds the %s hard limit; writes are blocked until cleanup",
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(sizeBlockedBytes)))
	case total > sizeWarningBytes:
		info.Warning = true
		info.Message = fmt.Sprintf("database at %s is approaching the %s limit",
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(sizeBlockedBytes)))
	default:
		info.Message = fmt.Sprintf("database at %s", humanize.Bytes(uint64(total)))
	}
	return info, nil
}

// IsBlocked reports whether the database has exceeded the hard size cap.
func (s *Store) IsBlocked() (bool, error) {
	info, err := s.SizeInfo()
	if err != nil {
		return false, err
	}
	return info.Blocked, nil
}

// --- Links ---

// InsertLink creates a link row; ON CONFLICT DO NOTHING makes repeated calls
// idempotent (the UNIQUE(source_id, target_id) constraint backs this).
func (s *Store) InsertLink(sourceID, targetID int64, rel Relationship, strength float64) (*MemoryLink, error) {
	return insertLinkOn(s.db, sourceID, targetID, rel, strength)
}

// InsertLinkTx is InsertLink run on a transaction an outer caller already
// holds open.
func (s *Store) InsertLinkTx(tx *Tx, sourceID, targetID int64, rel Relationship, strength float64) (*MemoryLink, error) {
	return insertLinkOn(tx, sourceID, targetID, rel, strength)
}

func insertLinkOn(conn dbConn, sourceID, targetID int64, rel Relationship, strength float64) (*MemoryLink, error) {
	if sourceID == targetID {
		return nil, nil
	}
	now := formatTime(time.Now())
	_, err := conn.Exec(`
		INSERT INTO memory_links (source_id, target_id, relationship, strength, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO NOTHING`,
		sourceID, targetID, string(rel), strength, now,
	)
	if err != nil {
		return nil, err
	}

	var link MemoryLink
	var relStr, createdAt string
	err = conn.QueryRow(`SELECT id, source_id, target_id, relationship, strength, created_at
		FROM memory_links WHERE source_id = ? AND target_id = ?`, sourceID, targetID).
		Scan(&link.ID, &link.SourceID, &link.TargetID, &relStr, &link.Strength, &createdAt)
	if err != nil {
		return nil, err
	}
	link.Relationship = Relationship(relStr)
	link.CreatedAt = parseTime(createdAt)
	return &link, nil
}

// SetLinkStrength overwrites the strength of an existing link.
func (s *Store) SetLinkStrength(sourceID, targetID int64, strength float64) error {
	_, err := s.db.Exec(`UPDATE memory_links SET strength = ? WHERE
		(source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?)`,
		strength, sourceID, targetID, targetID, sourceID)
	return err
}

// FindLink returns the link between a and b in either direction, if any.
func (s *Store) FindLink(a, b int64) (*MemoryLink, error) {
	var link MemoryLink
	var relStr, createdAt string
	err := s.db.QueryRow(`SELECT id, source_id, target_id, relationship, strength, created_at
		FROM memory_links WHERE (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?)
		LIMIT 1`, a, b, b, a).
		Scan(&link.ID, &link.SourceID, &link.TargetID, &relStr, &link.Strength, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	link.Relationship = Relationship(relStr)
	link.CreatedAt = parseTime(createdAt)
	return &link, nil
}

// GetLinksByRelationship returns every link of a given relationship kind,
// used by the consolidator to walk all `contradicts` edges for salience
// evolution without fetching one memory's links at a time.
func (s *Store) GetLinksByRelationship(rel Relationship) ([]MemoryLink, error) {
	return getLinksByRelationshipOn(s.db, rel)
}

// GetLinksByRelationshipTx is GetLinksByRelationship run on a transaction an
// outer caller already holds open.
func (s *Store) GetLinksByRelationshipTx(tx *Tx, rel Relationship) ([]MemoryLink, error) {
	return getLinksByRelationshipOn(tx, rel)
}

func getLinksByRelationshipOn(conn dbConn, rel Relationship) ([]MemoryLink, error) {
	rows, err := conn.Query(`SELECT id, source_id, target_id, relationship, strength, created_at
		FROM memory_links WHERE relationship = ?`, string(rel))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemoryLink
	for rows.Next() {
		var l MemoryLink
		var relStr, createdAt string
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &relStr, &l.Strength, &createdAt); err != nil {
			return nil, err
		}
		l.Relationship = Relationship(relStr)
		l.CreatedAt = parseTime(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetLinks returns every link touching a memory, in either direction,
// strongest first.
func (s *Store) GetLinks(memoryID int64) ([]MemoryLink, error) {
	return getLinksOn(s.db, memoryID)
}

// GetLinksTx is GetLinks run on a transaction an outer caller already holds
// open.
func (s *Store) GetLinksTx(tx *Tx, memoryID int64) ([]MemoryLink, error) {
	return getLinksOn(tx, memoryID)
}

func getLinksOn(conn dbConn, memoryID int64) ([]MemoryLink, error) {
	rows, err := conn.Query(`SELECT id, source_id, target_id, relationship, strength, created_at
		FROM memory_links WHERE source_id = ? OR target_id = ?
		ORDER BY strength DESC`, memoryID, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemoryLink
	for rows.Next() {
		var l MemoryLink
		var relStr, createdAt string
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &relStr, &l.Strength, &createdAt); err != nil {
			return nil, err
		}
		l.Relationship = Relationship(relStr)
		l.CreatedAt = parseTime(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Events ---

func insertEventOn(conn dbConn, typ EventType, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = conn.Exec(`INSERT INTO events (type, data, timestamp) VALUES (?, ?, ?)`,
		string(typ), payload, formatTime(time.Now()))
	return err
}

// PersistEvent writes a durable event row outside of any caller transaction.
func (s *Store) PersistEvent(typ EventType, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO events (type, data, timestamp) VALUES (?, ?, ?)`,
		string(typ), payload, formatTime(time.Now()))
	return err
}

// GetUnprocessedEvents returns up to limit unprocessed events, oldest first.
func (s *Store) GetUnprocessedEvents(limit int) ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, type, data, timestamp, processed FROM events
		WHERE processed = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ, ts string
		var processed int
		if err := rows.Scan(&e.ID, &typ, &e.Data, &ts, &processed); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Timestamp = parseTime(ts)
		e.Processed = processed != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkProcessed flags a batch of events as processed.
func (s *Store) MarkProcessed(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.Exec(`UPDATE events SET processed = 1 WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	return err
}

// PurgeProcessedOlderThan deletes processed events older than the cutoff.
func (s *Store) PurgeProcessedOlderThan(age time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-age))
	res, err := s.db.Exec(`DELETE FROM events WHERE processed = 1 AND timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Sessions ---

// StartSession creates a new session row and returns its id.
func (s *Store) StartSession(project string) (*Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		Project:   project,
		StartedAt: time.Now(),
	}
	_, err := s.db.Exec(`INSERT INTO sessions (id, project, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Project, formatTime(sess.StartedAt))
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// EndSession marks a session ended with an optional summary.
func (s *Store) EndSession(id, summary string) error {
	res, err := s.db.Exec(`UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ?`,
		formatTime(time.Now()), summary, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &NotFoundError{Kind: "session", ID: id}
	}
	return nil
}

// IncrementSessionCounters bumps a session's created/accessed counters.
func (s *Store) IncrementSessionCounters(id string, created, accessed int) error {
	_, err := s.db.Exec(`UPDATE sessions SET memories_created = memories_created + ?,
		memories_accessed = memories_accessed + ? WHERE id = ?`, created, accessed, id)
	return err
}

// --- Bulk touch / reinforcement primitives ---

// RecentlyAccessedExcept returns every memory other than excludeID whose
// last_accessed_at falls within window of now, the candidate set for
// Hebbian co-access strengthening.
func (s *Store) RecentlyAccessedExcept(excludeID int64, now time.Time, window time.Duration) ([]Memory, error) {
	cutoff := formatTime(now.Add(-window))
	rows, err := s.db.Query(`SELECT `+memorySelectCols+` FROM memories
		WHERE id != ? AND last_accessed_at >= ?`, excludeID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TouchAccess updates last_accessed_at only (soft-access; never changes
// salience or access_count).
func (s *Store) TouchAccess(id int64) error {
	_, err := s.db.Exec(`UPDATE memories SET last_accessed_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	return err
}

// ReinforceAccess bumps access_count, sets last_accessed_at to now, and
// applies a new salience value computed by the caller.
func (s *Store) ReinforceAccess(id int64, newSalience float64) error {
	_, err := s.db.Exec(`UPDATE memories SET salience = ?, access_count = access_count + 1,
		last_accessed_at = ? WHERE id = ?`, newSalience, formatTime(time.Now()), id)
	return err
}

// PersistDecayedScore writes a recomputed decayed_score.
func (s *Store) PersistDecayedScore(id int64, score float64) error {
	return persistDecayedScoreOn(s.db, id, score)
}

// PersistDecayedScoreTx is PersistDecayedScore run on a transaction an outer
// caller already holds open.
func (s *Store) PersistDecayedScoreTx(tx *Tx, id int64, score float64) error {
	return persistDecayedScoreOn(tx, id, score)
}

func persistDecayedScoreOn(conn dbConn, id int64, score float64) error {
	_, err := conn.Exec(`UPDATE memories SET decayed_score = ? WHERE id = ?`, score, id)
	return err
}

// Close removes the lock file and closes the database connection.
func (s *Store) Close() error {
	os.Remove(s.lockPath)
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
