package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// persistDebounce bounds how long a burst of writes may sit in the WAL
// before being checkpointed to the main database file.
const persistDebounce = 500 * time.Millisecond

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps all durable state in a single-file database. Designed for:
//   - Local workflow tools with zero setup
//   - Single-process use
//   - Prototyping before migrating to a server-backed store
//
// SQLiteStore uses WAL mode with a debounced checkpoint: bursts of writes
// collapse into one flush within persistDebounce. Flush forces the
// checkpoint immediately.
//
// Schema:
//   - workflows: name, status, serialized graph definition
//   - nodes: type, position, params, current output pointer
//   - edges: source/target node and handle keys
//   - executions: per-attempt outcome, hashes, cost, rating
//   - budget_config: singleton spend limits
//   - daily_spend: per-UTC-day accumulated cost
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string

	flushMu    sync.Mutex
	flushTimer *time.Timer
}

// NewSQLiteStore opens or creates the database file at path.
//
// The path parameter specifies the database file location:
//   - "./weft.db" - file in current directory
//   - "/tmp/weft.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// On open the store runs an integrity check. A corrupt file is renamed to
// "<path>.corrupt.<epoch>" and a fresh database is initialized in its
// place, so a damaged file never blocks startup.
//
// The store automatically:
//   - Creates required tables and indexes
//   - Enables WAL mode and foreign key enforcement
//   - Configures a 5 second busy timeout
//
// Example:
//
//	st, err := store.NewSQLiteStore("./weft.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openSQLite(path)

	// Integrity check. In-memory databases are always fresh. A file that
	// fails to open at all (not a database) counts as corrupt too.
	if isMemoryPath(path) {
		if err != nil {
			return nil, err
		}
	} else {
		healthy := err == nil
		if healthy {
			ok, checkErr := integrityOK(db)
			healthy = checkErr == nil && ok
		}
		if !healthy {
			if db != nil {
				_ = db.Close()
			}
			backup := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
			if renameErr := os.Rename(path, backup); renameErr != nil {
				if err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("failed to move corrupt database aside: %w", renameErr)
			}
			db, err = openSQLite(path)
			if err != nil {
				return nil, fmt.Errorf("failed to reinitialize after corruption: %w", err)
			}
		}
	}

	store := &SQLiteStore{
		db:     db,
		closed: false,
		path:   path,
	}

	if err := store.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// openSQLite opens a connection with the session pragmas on the DSN, so
// they apply to every connection the driver hands out. database/sql may
// quietly replace a connection it had to discard, and a replacement that
// came up without foreign_keys would stop enforcing the cascade schema.
func openSQLite(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; the store shares a single
	// connection so statements serialize.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Force the first connection now. A file that is not a database
	// surfaces here, in time for the corruption recovery at open.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	return db, nil
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// integrityOK runs PRAGMA integrity_check and reports whether the file is
// sound. A file that is not a database surfaces as an error here.
func integrityOK(db *sql.DB) (bool, error) {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return false, err
	}
	return result == "ok", nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	workflowsTable := `
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'draft',
			graph_definition TEXT NOT NULL DEFAULT '{"nodes":[],"edges":[]}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, workflowsTable); err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}

	nodesTable := `
		CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			type TEXT NOT NULL,
			pos_x REAL NOT NULL DEFAULT 0,
			pos_y REAL NOT NULL DEFAULT 0,
			params TEXT NOT NULL DEFAULT '{}',
			current_output_id TEXT,
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		)
	`
	if _, err := s.db.ExecContext(ctx, nodesTable); err != nil {
		return fmt.Errorf("failed to create nodes table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_nodes_workflow ON nodes(workflow_id)"); err != nil {
		return fmt.Errorf("failed to create idx_nodes_workflow: %w", err)
	}

	edgesTable := `
		CREATE TABLE IF NOT EXISTS edges (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			source_node TEXT NOT NULL,
			source_output TEXT NOT NULL,
			target_node TEXT NOT NULL,
			target_input TEXT NOT NULL,
			UNIQUE(source_node, source_output, target_node, target_input),
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		)
	`
	if _, err := s.db.ExecContext(ctx, edgesTable); err != nil {
		return fmt.Errorf("failed to create edges table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_edges_workflow ON edges(workflow_id)"); err != nil {
		return fmt.Errorf("failed to create idx_edges_workflow: %w", err)
	}

	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			input_hash TEXT NOT NULL,
			params_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			result_path TEXT,
			result_metadata TEXT,
			error_message TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			score REAL,
			starred INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE,
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		)
	`
	if _, err := s.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_node ON executions(node_id)"); err != nil {
		return fmt.Errorf("failed to create idx_executions_node: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)"); err != nil {
		return fmt.Errorf("failed to create idx_executions_workflow: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create idx_executions_created: %w", err)
	}
	// Composite index serving the result-cache lookup.
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_cache ON executions(node_id, input_hash, params_hash, status)"); err != nil {
		return fmt.Errorf("failed to create idx_executions_cache: %w", err)
	}

	budgetTable := `
		CREATE TABLE IF NOT EXISTS budget_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			per_execution_limit REAL NOT NULL,
			daily_limit REAL NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, budgetTable); err != nil {
		return fmt.Errorf("failed to create budget_config table: %w", err)
	}

	spendTable := `
		CREATE TABLE IF NOT EXISTS daily_spend (
			date TEXT PRIMARY KEY,
			total REAL NOT NULL DEFAULT 0
		)
	`
	if _, err := s.db.ExecContext(ctx, spendTable); err != nil {
		return fmt.Errorf("failed to create daily_spend table: %w", err)
	}

	return nil
}

// schedulePersist arms the debounced WAL checkpoint. Repeated writes within
// the window share one flush; the delay from the first write is bounded by
// persistDebounce.
func (s *SQLiteStore) schedulePersist() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(persistDebounce, func() {
		s.flushMu.Lock()
		s.flushTimer = nil
		s.flushMu.Unlock()

		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	})
}

// Flush checkpoints the WAL immediately, cancelling any pending debounce.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.flushMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// CreateWorkflow creates a workflow with a normalized unique name.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, name string) (*Workflow, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	taken, err := workflowNames(ctx, tx, "")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &Workflow{
		ID:        uuid.NewString(),
		Name:      uniqueWorkflowName(name, taken),
		Status:    WorkflowDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, w.ID, w.Name, string(w.Status), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.schedulePersist()
	return w, nil
}

// workflowNames collects the names of all workflows except excludeID.
func workflowNames(ctx context.Context, tx *sql.Tx, excludeID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, name FROM workflows")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	taken := make(map[string]bool)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan workflow name: %w", err)
		}
		if id != excludeID {
			taken[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow names: %w", err)
	}
	return taken, nil
}

// GetWorkflow returns the workflow by id, or ErrNotFound.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	var (
		w                    Workflow
		status               string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM workflows
		WHERE id = ?
	`, id).Scan(&w.ID, &w.Name, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	w.Status = WorkflowStatus(status)
	w.CreatedAt = time.Unix(0, createdAt).UTC()
	w.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &w, nil
}

// ListWorkflows returns all workflows, most recently updated first.
func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM workflows
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Workflow
	for rows.Next() {
		var (
			w                    Workflow
			status               string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&w.ID, &w.Name, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		w.Status = WorkflowStatus(status)
		w.CreatedAt = time.Unix(0, createdAt).UTC()
		w.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}
	return out, nil
}

// RenameWorkflow sets a new normalized unique name.
func (s *SQLiteStore) RenameWorkflow(ctx context.Context, id, name string) (*Workflow, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	taken, err := workflowNames(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	unique := uniqueWorkflowName(name, taken)
	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE workflows SET name = ?, updated_at = ? WHERE id = ?
	`, unique, now.UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to rename workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		err = ErrNotFound
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.schedulePersist()
	return s.GetWorkflow(ctx, id)
}

// SetWorkflowStatus moves the workflow between lifecycle states.
func (s *SQLiteStore) SetWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.schedulePersist()
	return nil
}

// DeleteWorkflow removes the workflow. Foreign keys cascade the delete to
// nodes, edges, and executions.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.schedulePersist()
	return nil
}

// SaveGraph overwrites the workflow's graph while preserving execution
// history.
//
// Deleting a node would normally cascade its executions away, so foreign
// key enforcement is switched off around the delete/insert pair. The
// pragma is a connection-level setting and a no-op inside a transaction,
// which is why it is toggled outside BEGIN/COMMIT. The store-wide write
// lock keeps other operations off the shared connection while enforcement
// is relaxed.
func (s *SQLiteStore) SaveGraph(ctx context.Context, workflowID string, def GraphDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows WHERE id = ?", workflowID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check workflow: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	// Current output pointers to restore after the overwrite.
	prevOutputs := make(map[string]string)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, current_output_id FROM nodes
		WHERE workflow_id = ? AND current_output_id IS NOT NULL
	`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to query current outputs: %w", err)
	}
	for rows.Next() {
		var nodeID, exID string
		if err := rows.Scan(&nodeID, &exID); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan current output: %w", err)
		}
		prevOutputs[nodeID] = exID
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("error iterating current outputs: %w", err)
	}
	_ = rows.Close()

	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("failed to relax foreign keys: %w", err)
	}
	// Re-enable on a context that survives the caller's: a save aborted by
	// cancellation must not leave the shared connection unenforced.
	defer func() {
		_, _ = s.db.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys=ON")
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM nodes WHERE workflow_id = ?", workflowID); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM edges WHERE workflow_id = ?", workflowID); err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}

	normalizeGraph(workflowID, &def)
	for i := range def.Nodes {
		n := def.Nodes[i]
		paramsJSON, merr := json.Marshal(n.Params)
		if merr != nil {
			err = fmt.Errorf("failed to marshal node params: %w", merr)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (id, workflow_id, type, pos_x, pos_y, params, current_output_id)
			VALUES (?, ?, ?, ?, ?, ?, NULL)
		`, n.ID, workflowID, n.Type, n.X, n.Y, string(paramsJSON))
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}
	for i := range def.Edges {
		e := def.Edges[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edges (id, workflow_id, source_node, source_output, target_node, target_input)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ID, workflowID, e.SourceNode, e.SourceOutput, e.TargetNode, e.TargetInput)
		if err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", e.ID, err)
		}
	}

	// Executions of nodes that did not survive the overwrite.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM executions
		WHERE workflow_id = ?
		  AND node_id NOT IN (SELECT id FROM nodes WHERE workflow_id = ?)
	`, workflowID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to prune orphaned executions: %w", err)
	}

	// Restore current outputs where both the node id and the referenced
	// execution survived.
	for nodeID, exID := range prevOutputs {
		_, err = tx.ExecContext(ctx, `
			UPDATE nodes SET current_output_id = ?
			WHERE id = ? AND workflow_id = ?
			  AND EXISTS (SELECT 1 FROM executions WHERE id = ? AND node_id = ?)
		`, exID, nodeID, workflowID, exID, nodeID)
		if err != nil {
			return fmt.Errorf("failed to restore current output for node %s: %w", nodeID, err)
		}
	}

	defJSON, merr := json.Marshal(def)
	if merr != nil {
		err = fmt.Errorf("failed to marshal graph definition: %w", merr)
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE workflows SET graph_definition = ?, updated_at = ? WHERE id = ?
	`, string(defJSON), time.Now().UTC().UnixNano(), workflowID)
	if err != nil {
		return fmt.Errorf("failed to update graph definition: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.schedulePersist()
	return nil
}

// GetGraph returns the workflow's nodes and edges in insertion order.
func (s *SQLiteStore) GetGraph(ctx context.Context, workflowID string) (*GraphDefinition, error) {
	// Hold the read lock across both queries. SaveGraph rewrites nodes and
	// edges under the write lock, and a read that lands between the two
	// selects would stitch together halves of different saves.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows WHERE id = ?", workflowID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check workflow: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	def := &GraphDefinition{Nodes: []Node{}, Edges: []Edge{}}

	nodeRows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, type, pos_x, pos_y, params, current_output_id
		FROM nodes
		WHERE workflow_id = ?
		ORDER BY rowid ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = nodeRows.Close() }()

	for nodeRows.Next() {
		var (
			n          Node
			paramsJSON string
			currentOut sql.NullString
		)
		if err := nodeRows.Scan(&n.ID, &n.WorkflowID, &n.Type, &n.X, &n.Y, &paramsJSON, &currentOut); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &n.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node params: %w", err)
		}
		if currentOut.Valid {
			n.CurrentOutputID = currentOut.String
		}
		def.Nodes = append(def.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, source_node, source_output, target_node, target_input
		FROM edges
		WHERE workflow_id = ?
		ORDER BY rowid ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer func() { _ = edgeRows.Close() }()

	for edgeRows.Next() {
		var e Edge
		if err := edgeRows.Scan(&e.ID, &e.WorkflowID, &e.SourceNode, &e.SourceOutput, &e.TargetNode, &e.TargetInput); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		def.Edges = append(def.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edge rows: %w", err)
	}

	return def, nil
}

// SetCurrentOutput points nodeID's current output at executionID, or
// clears it when executionID is empty. The execution must belong to the
// node.
func (s *SQLiteStore) SetCurrentOutput(ctx context.Context, workflowID, nodeID, executionID string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	if executionID == "" {
		res, err := s.db.ExecContext(ctx, `
			UPDATE nodes SET current_output_id = NULL
			WHERE id = ? AND workflow_id = ?
		`, nodeID, workflowID)
		if err != nil {
			return fmt.Errorf("failed to clear current output: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		s.schedulePersist()
		return nil
	}

	var ownerNode string
	err := s.db.QueryRowContext(ctx, "SELECT node_id FROM executions WHERE id = ?", executionID).Scan(&ownerNode)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}
	if ownerNode != nodeID {
		return fmt.Errorf("execution %s does not belong to node %s", executionID, nodeID)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET current_output_id = ?
		WHERE id = ? AND workflow_id = ?
	`, executionID, nodeID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to set current output: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.schedulePersist()
	return nil
}

// InsertExecution writes a new execution row.
func (s *SQLiteStore) InsertExecution(ctx context.Context, ex *Execution) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	metadataJSON, err := marshalNullableMap(ex.ResultMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal result metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
		(id, node_id, workflow_id, input_hash, params_hash, status,
		 result_path, result_metadata, error_message, duration_ms, cost,
		 created_at, score, starred)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ex.ID, ex.NodeID, ex.WorkflowID, ex.InputHash, ex.ParamsHash, string(ex.Status),
		nullableString(ex.ResultPath), metadataJSON, nullableString(ex.ErrorMessage),
		ex.DurationMs, ex.Cost, ex.CreatedAt.UnixNano(), nullableFloat(ex.Score), boolToInt(ex.Starred),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	s.schedulePersist()
	return nil
}

// FinalizeExecution fills the outcome fields of an execution.
func (s *SQLiteStore) FinalizeExecution(ctx context.Context, id string, res ExecutionResult) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	metadataJSON, err := marshalNullableMap(res.ResultMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal result metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, result_path = ?, result_metadata = ?, error_message = ?,
		    duration_ms = ?, cost = ?
		WHERE id = ?
	`,
		string(res.Status), nullableString(res.ResultPath), metadataJSON,
		nullableString(res.ErrorMessage), res.DurationMs, res.Cost, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.schedulePersist()
	return nil
}

const executionColumns = `
	id, node_id, workflow_id, input_hash, params_hash, status,
	result_path, result_metadata, error_message, duration_ms, cost,
	created_at, score, starred
`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(sc rowScanner) (*Execution, error) {
	var (
		ex           Execution
		status       string
		resultPath   sql.NullString
		metadataJSON sql.NullString
		errorMessage sql.NullString
		createdAt    int64
		score        sql.NullFloat64
		starred      int
	)
	err := sc.Scan(
		&ex.ID, &ex.NodeID, &ex.WorkflowID, &ex.InputHash, &ex.ParamsHash, &status,
		&resultPath, &metadataJSON, &errorMessage, &ex.DurationMs, &ex.Cost,
		&createdAt, &score, &starred,
	)
	if err != nil {
		return nil, err
	}

	ex.Status = ExecutionStatus(status)
	if resultPath.Valid {
		ex.ResultPath = resultPath.String
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &ex.ResultMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result metadata: %w", err)
		}
	}
	if errorMessage.Valid {
		ex.ErrorMessage = errorMessage.String
	}
	ex.CreatedAt = time.Unix(0, createdAt).UTC()
	if score.Valid {
		v := score.Float64
		ex.Score = &v
	}
	ex.Starred = starred != 0
	return &ex, nil
}

// GetExecution returns the execution by id, or ErrNotFound.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = ?", id)
	ex, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return ex, nil
}

// ListExecutions returns a node's executions, newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, nodeID string) ([]*Execution, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE node_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return out, nil
}

// LookupCached returns the most recent successful execution matching the
// cache key, or nil when none exists. Served by idx_executions_cache.
func (s *SQLiteStore) LookupCached(ctx context.Context, nodeID, inputHash, paramsHash string) (*Execution, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE node_id = ? AND input_hash = ? AND params_hash = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, nodeID, inputHash, paramsHash, string(ExecutionSuccess))
	ex, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cached execution: %w", err)
	}
	return ex, nil
}

// DeleteExecution removes one execution and clears any CurrentOutputID
// pointing at it.
func (s *SQLiteStore) DeleteExecution(ctx context.Context, id string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "UPDATE nodes SET current_output_id = NULL WHERE current_output_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear current output: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM executions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		err = ErrNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.schedulePersist()
	return nil
}

// DeleteExecutionsForNode removes all of a node's executions.
func (s *SQLiteStore) DeleteExecutionsForNode(ctx context.Context, nodeID string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "UPDATE nodes SET current_output_id = NULL WHERE id = ?", nodeID); err != nil {
		return fmt.Errorf("failed to clear current output: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM executions WHERE node_id = ?", nodeID); err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.schedulePersist()
	return nil
}

// SetExecutionScore sets or clears the user rating.
func (s *SQLiteStore) SetExecutionScore(ctx context.Context, id string, score *float64) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, "UPDATE executions SET score = ? WHERE id = ?", nullableFloat(score), id)
	if err != nil {
		return fmt.Errorf("failed to set score: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.schedulePersist()
	return nil
}

// SetExecutionStarred sets the user favorite flag.
func (s *SQLiteStore) SetExecutionStarred(ctx context.Context, id string, starred bool) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, "UPDATE executions SET starred = ? WHERE id = ?", boolToInt(starred), id)
	if err != nil {
		return fmt.Errorf("failed to set starred: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.schedulePersist()
	return nil
}

// GetBudget returns the configured limits, or defaults when unset.
func (s *SQLiteStore) GetBudget(ctx context.Context) (BudgetConfig, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return BudgetConfig{}, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	var cfg BudgetConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT per_execution_limit, daily_limit FROM budget_config WHERE id = 1
	`).Scan(&cfg.PerExecutionLimit, &cfg.DailyLimit)
	if err == sql.ErrNoRows {
		return BudgetConfig{
			PerExecutionLimit: DefaultPerExecutionLimit,
			DailyLimit:        DefaultDailyLimit,
		}, nil
	}
	if err != nil {
		return BudgetConfig{}, fmt.Errorf("failed to load budget: %w", err)
	}
	return cfg, nil
}

// SetBudget saves the singleton limits.
func (s *SQLiteStore) SetBudget(ctx context.Context, cfg BudgetConfig) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_config (id, per_execution_limit, daily_limit)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			per_execution_limit = excluded.per_execution_limit,
			daily_limit = excluded.daily_limit
	`, cfg.PerExecutionLimit, cfg.DailyLimit)
	if err != nil {
		return fmt.Errorf("failed to save budget: %w", err)
	}

	s.schedulePersist()
	return nil
}

// AddDailySpend atomically adds amount to the date's total and returns the
// new total.
func (s *SQLiteStore) AddDailySpend(ctx context.Context, date string, amount float64) (float64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_spend (date, total)
		VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET total = total + excluded.total
	`, date, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to add daily spend: %w", err)
	}

	var total float64
	if err = tx.QueryRowContext(ctx, "SELECT total FROM daily_spend WHERE date = ?", date).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to read daily spend: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.schedulePersist()
	return total, nil
}

// GetDailySpend returns the accumulated total for the date.
func (s *SQLiteStore) GetDailySpend(ctx context.Context, date string) (float64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	var total float64
	err := s.db.QueryRowContext(ctx, "SELECT total FROM daily_spend WHERE date = ?", date).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read daily spend: %w", err)
	}
	return total, nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database connection.
//
// After Close, all operations return an error. Calling Close multiple
// times is safe.
func (s *SQLiteStore) Close() error {
	s.flushMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.flushMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func marshalNullableMap(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
