package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"telefeed/internal/migrations"
	"telefeed/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the single durable store: rules, filter sets, transform specs,
// account session metadata, and the correlation table all live in one SQLite
// file. Every mutation is written synchronously before the call returns, so a
// crash after an acknowledged write cannot lose state.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Session operations

func (d *Database) SaveSession(ctx context.Context, session *models.AccountSession) error {
	encryptedAccount, err := d.encryptor.EncryptForLookupIfEnabled(session.Account)
	if err != nil {
		return fmt.Errorf("failed to encrypt account: %w", err)
	}

	encryptedBlob, err := d.encryptor.EncryptIfEnabled(session.AuthBlob)
	if err != nil {
		return fmt.Errorf("failed to encrypt auth blob: %w", err)
	}

	query := `
		INSERT INTO account_sessions (
			account, state, auth_blob, connected_at, restored_at, expired_at, last_error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account) DO UPDATE SET
			state = excluded.state,
			auth_blob = excluded.auth_blob,
			connected_at = excluded.connected_at,
			restored_at = excluded.restored_at,
			expired_at = excluded.expired_at,
			last_error = excluded.last_error,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = d.db.ExecContext(ctx, query,
		encryptedAccount,
		string(session.State),
		encryptedBlob,
		session.ConnectedAt,
		session.RestoredAt,
		session.ExpiredAt,
		session.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (d *Database) GetSession(ctx context.Context, account string) (*models.AccountSession, error) {
	encryptedAccount, err := d.encryptor.EncryptForLookupIfEnabled(account)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt account: %w", err)
	}

	query := `
		SELECT account, state, auth_blob, connected_at, restored_at, expired_at, last_error
		FROM account_sessions
		WHERE account = ?
	`

	session := &models.AccountSession{}
	var encryptedStoredAccount string
	var encryptedBlob sql.NullString
	var lastError sql.NullString
	var state string

	err = d.db.QueryRowContext(ctx, query, encryptedAccount).Scan(
		&encryptedStoredAccount,
		&state,
		&encryptedBlob,
		&session.ConnectedAt,
		&session.RestoredAt,
		&session.ExpiredAt,
		&lastError,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Account = account
	session.State = models.SessionState(state)
	session.LastError = lastError.String

	if encryptedBlob.Valid {
		session.AuthBlob, err = d.encryptor.DecryptIfEnabled(encryptedBlob.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt auth blob: %w", err)
		}
	}

	return session, nil
}

func (d *Database) ListSessions(ctx context.Context) ([]models.AccountSession, error) {
	query := `
		SELECT account, state, auth_blob, connected_at, restored_at, expired_at, last_error
		FROM account_sessions
		ORDER BY account
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.AccountSession
	for rows.Next() {
		var session models.AccountSession
		var encryptedAccount, state string
		var encryptedBlob, lastError sql.NullString

		if err := rows.Scan(
			&encryptedAccount,
			&state,
			&encryptedBlob,
			&session.ConnectedAt,
			&session.RestoredAt,
			&session.ExpiredAt,
			&lastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		// Lookup encryption is deterministic but not reversible per row; the
		// account column round-trips through DecryptIfEnabled only when
		// encryption is disabled, so keep the stored value otherwise.
		session.Account = encryptedAccount
		session.State = models.SessionState(state)
		session.LastError = lastError.String

		if encryptedBlob.Valid {
			blob, err := d.encryptor.DecryptIfEnabled(encryptedBlob.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt auth blob: %w", err)
			}
			session.AuthBlob = blob
		}

		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

func (d *Database) DeleteSession(ctx context.Context, account string) error {
	encryptedAccount, err := d.encryptor.EncryptForLookupIfEnabled(account)
	if err != nil {
		return fmt.Errorf("failed to encrypt account: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, `DELETE FROM account_sessions WHERE account = ?`, encryptedAccount); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Correlation operations

// SaveCorrelation records or refreshes the link between a source message and
// the message it produced in one destination conversation. Reads issued after
// this returns will observe the row (same connection pool, synchronous
// write), which is what edit propagation relies on.
func (d *Database) SaveCorrelation(ctx context.Context, entry *models.CorrelationEntry) error {
	query := `
		INSERT INTO correlations (
			account, source_convo, source_msg_id, dest_convo, dest_msg_id, status, forwarded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, source_convo, source_msg_id, dest_convo) DO UPDATE SET
			dest_msg_id = excluded.dest_msg_id,
			status = excluded.status,
			forwarded_at = excluded.forwarded_at,
			updated_at = CURRENT_TIMESTAMP
	`

	forwardedAt := entry.ForwardedAt
	if forwardedAt.IsZero() {
		forwardedAt = time.Now()
	}

	_, err := d.db.ExecContext(ctx, query,
		entry.Account,
		entry.SourceConvo,
		entry.SourceMsgID,
		entry.DestConvo,
		entry.DestMsgID,
		string(entry.Status),
		forwardedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save correlation: %w", err)
	}

	return nil
}

// GetCorrelations returns every destination message produced by the given
// source message, keyed by destination conversation id.
func (d *Database) GetCorrelations(ctx context.Context, account string, sourceConvo, sourceMsgID int64) (map[int64]int64, error) {
	query := `
		SELECT dest_convo, dest_msg_id
		FROM correlations
		WHERE account = ? AND source_convo = ? AND source_msg_id = ?
	`

	rows, err := d.db.QueryContext(ctx, query, account, sourceConvo, sourceMsgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get correlations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]int64)
	for rows.Next() {
		var destConvo, destMsgID int64
		if err := rows.Scan(&destConvo, &destMsgID); err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		result[destConvo] = destMsgID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func (d *Database) UpdateCorrelationStatus(ctx context.Context, account string, sourceConvo, sourceMsgID, destConvo int64, status models.DeliveryStatus) error {
	query := `
		UPDATE correlations
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account = ? AND source_convo = ? AND source_msg_id = ? AND dest_convo = ?
	`

	result, err := d.db.ExecContext(ctx, query, string(status), account, sourceConvo, sourceMsgID, destConvo)
	if err != nil {
		return fmt.Errorf("failed to update correlation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no correlation found for source message %d in %d", sourceMsgID, sourceConvo)
	}

	return nil
}

// CleanupOldCorrelations bounds table growth: entries older than the
// retention window are no longer editable upstream anyway.
func (d *Database) CleanupOldCorrelations(retentionDays int) error {
	query := `
		DELETE FROM correlations
		WHERE created_at < datetime('now', '-' || ? || ' days')
	`

	if _, err := d.db.Exec(query, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old correlations: %w", err)
	}

	return nil
}
