package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Server deployments shared by several workstations
//   - Long-lived workflow libraries that survive machine rebuilds
//   - Audit and reporting over execution history
//
// MySQLStore uses connection pooling and transactions for reliability.
// Commits are durable on their own, so Flush is a no-op and there is no
// debounced persist.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/weft
//	user:password@tcp(127.0.0.1:3306)/weft?parseTime=true
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("WEFT_MYSQL_DSN")
//	    st, err := store.NewMySQLStore(dsn)
//
// The store automatically creates required tables and configures the
// connection pool.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore{db: db, closed: false}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	workflowsTable := `
		CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			status VARCHAR(16) NOT NULL DEFAULT 'draft',
			graph_definition JSON NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_workflows_updated (updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, workflowsTable); err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}

	nodesTable := `
		CREATE TABLE IF NOT EXISTS nodes (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			type VARCHAR(128) NOT NULL,
			pos_x DOUBLE NOT NULL DEFAULT 0,
			pos_y DOUBLE NOT NULL DEFAULT 0,
			params JSON NOT NULL,
			current_output_id VARCHAR(64) NULL,
			seq BIGINT AUTO_INCREMENT UNIQUE,
			INDEX idx_nodes_workflow (workflow_id),
			CONSTRAINT fk_nodes_workflow FOREIGN KEY (workflow_id)
				REFERENCES workflows(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, nodesTable); err != nil {
		return fmt.Errorf("failed to create nodes table: %w", err)
	}

	edgesTable := `
		CREATE TABLE IF NOT EXISTS edges (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			source_node VARCHAR(64) NOT NULL,
			source_output VARCHAR(128) NOT NULL,
			target_node VARCHAR(64) NOT NULL,
			target_input VARCHAR(128) NOT NULL,
			seq BIGINT AUTO_INCREMENT UNIQUE,
			UNIQUE KEY unique_edge (source_node, source_output, target_node, target_input),
			INDEX idx_edges_workflow (workflow_id),
			CONSTRAINT fk_edges_workflow FOREIGN KEY (workflow_id)
				REFERENCES workflows(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, edgesTable); err != nil {
		return fmt.Errorf("failed to create edges table: %w", err)
	}

	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			node_id VARCHAR(64) NOT NULL,
			workflow_id VARCHAR(64) NOT NULL,
			input_hash VARCHAR(64) NOT NULL,
			params_hash VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			result_path TEXT NULL,
			result_metadata JSON NULL,
			error_message TEXT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			cost DOUBLE NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			score DOUBLE NULL,
			starred TINYINT(1) NOT NULL DEFAULT 0,
			INDEX idx_executions_node (node_id),
			INDEX idx_executions_workflow (workflow_id),
			INDEX idx_executions_created (created_at DESC),
			INDEX idx_executions_cache (node_id, input_hash, params_hash, status),
			CONSTRAINT fk_executions_node FOREIGN KEY (node_id)
				REFERENCES nodes(id) ON DELETE CASCADE,
			CONSTRAINT fk_executions_workflow FOREIGN KEY (workflow_id)
				REFERENCES workflows(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	budgetTable := `
		CREATE TABLE IF NOT EXISTS budget_config (
			id TINYINT PRIMARY KEY,
			per_execution_limit DOUBLE NOT NULL,
			daily_limit DOUBLE NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, budgetTable); err != nil {
		return fmt.Errorf("failed to create budget_config table: %w", err)
	}

	spendTable := `
		CREATE TABLE IF NOT EXISTS daily_spend (
			date VARCHAR(10) PRIMARY KEY,
			total DOUBLE NOT NULL DEFAULT 0
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, spendTable); err != nil {
		return fmt.Errorf("failed to create daily_spend table: %w", err)
	}

	return nil
}

// CreateWorkflow creates a workflow with a normalized unique name.
func (m *MySQLStore) CreateWorkflow(ctx context.Context, name string) (*Workflow, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	tx, err := m.db.BeginTx(ctx, nil)
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
		INSERT INTO workflows (id, name, status, graph_definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.ID, w.Name, string(w.Status), `{"nodes":[],"edges":[]}`, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return w, nil
}

// GetWorkflow returns the workflow by id, or ErrNotFound.
func (m *MySQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	var (
		w                    Workflow
		status               string
		createdAt, updatedAt int64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at, updated_at FROM workflows WHERE id = ?
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
func (m *MySQLStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `
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
func (m *MySQLStore) RenameWorkflow(ctx context.Context, id, name string) (*Workflow, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	tx, err := m.db.BeginTx(ctx, nil)
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

	res, err := tx.ExecContext(ctx, `
		UPDATE workflows SET name = ?, updated_at = ? WHERE id = ?
	`, unique, time.Now().UTC().UnixNano(), id)
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
	return m.GetWorkflow(ctx, id)
}

// SetWorkflowStatus moves the workflow between lifecycle states.
func (m *MySQLStore) SetWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	res, err := m.db.ExecContext(ctx, `
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
	return nil
}

// DeleteWorkflow removes the workflow. Foreign keys cascade the delete.
func (m *MySQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	res, err := m.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
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
	return nil
}

// SaveGraph overwrites the workflow's graph while preserving execution
// history. The rewrite needs FOREIGN_KEY_CHECKS off while rows churn, and
// that is session state rather than transaction state, so the whole
// operation runs on one dedicated connection.
func (m *MySQLStore) SaveGraph(ctx context.Context, workflowID string, def GraphDefinition) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err = conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=0"); err != nil {
		return fmt.Errorf("failed to relax foreign keys: %w", err)
	}
	// Restore on a context that survives the caller's: a session returned
	// to the pool with checks still off would stop enforcing references for
	// whoever borrows it next.
	defer func() {
		if _, rerr := conn.ExecContext(context.WithoutCancel(ctx), "SET FOREIGN_KEY_CHECKS=1"); rerr != nil {
			// The session may still have checks off. Mark the connection
			// bad so the pool discards it instead of lending it out.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows WHERE id = ?", workflowID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check workflow: %w", err)
	}
	if exists == 0 {
		err = ErrNotFound
		return err
	}

	prevOutputs := make(map[string]string)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, current_output_id FROM nodes
		WHERE workflow_id = ? AND current_output_id IS NOT NULL
	`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to query current outputs: %w", err)
	}
	for rows.Next() {
		var nodeID, exID string
		if serr := rows.Scan(&nodeID, &exID); serr != nil {
			_ = rows.Close()
			err = fmt.Errorf("failed to scan current output: %w", serr)
			return err
		}
		prevOutputs[nodeID] = exID
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("error iterating current outputs: %w", err)
	}
	_ = rows.Close()

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

	_, err = tx.ExecContext(ctx, `
		DELETE FROM executions
		WHERE workflow_id = ?
		  AND node_id NOT IN (SELECT id FROM nodes WHERE workflow_id = ?)
	`, workflowID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to prune orphaned executions: %w", err)
	}

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
	return nil
}

// GetGraph returns the workflow's nodes and edges in insertion order.
func (m *MySQLStore) GetGraph(ctx context.Context, workflowID string) (*GraphDefinition, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	// One read-only transaction so both selects read the same snapshot. A
	// concurrent SaveGraph landing between them would otherwise stitch
	// together nodes of one save and edges of another.
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows WHERE id = ?", workflowID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check workflow: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	def := &GraphDefinition{Nodes: []Node{}, Edges: []Edge{}}

	nodeRows, err := tx.QueryContext(ctx, `
		SELECT id, workflow_id, type, pos_x, pos_y, params, current_output_id
		FROM nodes
		WHERE workflow_id = ?
		ORDER BY seq ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = nodeRows.Close() }()

	for nodeRows.Next() {
		var (
			n          Node
			paramsJSON []byte
			currentOut sql.NullString
		)
		if err := nodeRows.Scan(&n.ID, &n.WorkflowID, &n.Type, &n.X, &n.Y, &paramsJSON, &currentOut); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		if err := json.Unmarshal(paramsJSON, &n.Params); err != nil {
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

	edgeRows, err := tx.QueryContext(ctx, `
		SELECT id, workflow_id, source_node, source_output, target_node, target_input
		FROM edges
		WHERE workflow_id = ?
		ORDER BY seq ASC
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
// clears it when executionID is empty.
func (m *MySQLStore) SetCurrentOutput(ctx context.Context, workflowID, nodeID, executionID string) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	if executionID == "" {
		res, err := m.db.ExecContext(ctx, `
			UPDATE nodes SET current_output_id = NULL WHERE id = ? AND workflow_id = ?
		`, nodeID, workflowID)
		if err != nil {
			return fmt.Errorf("failed to clear current output: %w", err)
		}
		return m.verifyNodeTouched(ctx, res, nodeID, workflowID)
	}

	var ownerNode string
	err := m.db.QueryRowContext(ctx, "SELECT node_id FROM executions WHERE id = ?", executionID).Scan(&ownerNode)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}
	if ownerNode != nodeID {
		return fmt.Errorf("execution %s does not belong to node %s", executionID, nodeID)
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE nodes SET current_output_id = ? WHERE id = ? AND workflow_id = ?
	`, executionID, nodeID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to set current output: %w", err)
	}
	return m.verifyNodeTouched(ctx, res, nodeID, workflowID)
}

// verifyNodeTouched distinguishes "node missing" from "value unchanged":
// MySQL reports zero affected rows for an UPDATE that does not change the
// stored value, so a repeated set of the same execution is still a success.
func (m *MySQLStore) verifyNodeTouched(ctx context.Context, res sql.Result, nodeID, workflowID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes WHERE id = ? AND workflow_id = ?", nodeID, workflowID).Scan(&count); err != nil {
		return fmt.Errorf("failed to verify node: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertExecution writes a new execution row.
func (m *MySQLStore) InsertExecution(ctx context.Context, ex *Execution) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

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

	_, err = m.db.ExecContext(ctx, `
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
	return nil
}

// FinalizeExecution fills the outcome fields of an execution.
func (m *MySQLStore) FinalizeExecution(ctx context.Context, id string, res ExecutionResult) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	metadataJSON, err := marshalNullableMap(res.ResultMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal result metadata: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions WHERE id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("failed to verify execution: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}

	_, err = m.db.ExecContext(ctx, `
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
	return nil
}

// GetExecution returns the execution by id, or ErrNotFound.
func (m *MySQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	row := m.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = ?", id)
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
func (m *MySQLStore) ListExecutions(ctx context.Context, nodeID string) ([]*Execution, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE node_id = ?
		ORDER BY created_at DESC, id DESC
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
// cache key, or nil when none exists.
func (m *MySQLStore) LookupCached(ctx context.Context, nodeID, inputHash, paramsHash string) (*Execution, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	row := m.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE node_id = ? AND input_hash = ? AND params_hash = ? AND status = ?
		ORDER BY created_at DESC, id DESC
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
func (m *MySQLStore) DeleteExecution(ctx context.Context, id string) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	tx, err := m.db.BeginTx(ctx, nil)
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
	return nil
}

// DeleteExecutionsForNode removes all of a node's executions.
func (m *MySQLStore) DeleteExecutionsForNode(ctx context.Context, nodeID string) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	tx, err := m.db.BeginTx(ctx, nil)
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
	return nil
}

// SetExecutionScore sets or clears the user rating.
func (m *MySQLStore) SetExecutionScore(ctx context.Context, id string, score *float64) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions WHERE id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("failed to verify execution: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}

	if _, err := m.db.ExecContext(ctx, "UPDATE executions SET score = ? WHERE id = ?", nullableFloat(score), id); err != nil {
		return fmt.Errorf("failed to set score: %w", err)
	}
	return nil
}

// SetExecutionStarred sets the user favorite flag.
func (m *MySQLStore) SetExecutionStarred(ctx context.Context, id string, starred bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions WHERE id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("failed to verify execution: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}

	if _, err := m.db.ExecContext(ctx, "UPDATE executions SET starred = ? WHERE id = ?", boolToInt(starred), id); err != nil {
		return fmt.Errorf("failed to set starred: %w", err)
	}
	return nil
}

// GetBudget returns the configured limits, or defaults when unset.
func (m *MySQLStore) GetBudget(ctx context.Context) (BudgetConfig, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return BudgetConfig{}, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	var cfg BudgetConfig
	err := m.db.QueryRowContext(ctx, `
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
func (m *MySQLStore) SetBudget(ctx context.Context, cfg BudgetConfig) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO budget_config (id, per_execution_limit, daily_limit)
		VALUES (1, ?, ?)
		ON DUPLICATE KEY UPDATE
			per_execution_limit = VALUES(per_execution_limit),
			daily_limit = VALUES(daily_limit)
	`, cfg.PerExecutionLimit, cfg.DailyLimit)
	if err != nil {
		return fmt.Errorf("failed to save budget: %w", err)
	}
	return nil
}

// AddDailySpend atomically adds amount to the date's total and returns the
// new total.
func (m *MySQLStore) AddDailySpend(ctx context.Context, date string, amount float64) (float64, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return 0, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	tx, err := m.db.BeginTx(ctx, nil)
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
		ON DUPLICATE KEY UPDATE total = total + VALUES(total)
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
	return total, nil
}

// GetDailySpend returns the accumulated total for the date.
func (m *MySQLStore) GetDailySpend(ctx context.Context, date string) (float64, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return 0, fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	var total float64
	err := m.db.QueryRowContext(ctx, "SELECT total FROM daily_spend WHERE date = ?", date).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read daily spend: %w", err)
	}
	return total, nil
}

// Flush is a no-op: MySQL commits are durable on their own.
func (m *MySQLStore) Flush(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	return m.db.PingContext(ctx)
}

// Close closes the database connection. Safe to call more than once.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	return m.db.Close()
}
