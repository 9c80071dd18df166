package pg

import (
	"context"
	"database/sql"

	"accessgate.io/internal/audit"
	"accessgate.io/internal/ids"
)

// AuditEntries is the append-only audit_log table. It exposes no update or delete.
type AuditEntries struct {
	db *sql.DB
}

var _ audit.Store = (*AuditEntries)(nil)

func (s *AuditEntries) Append(ctx context.Context, e *audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, user_id, action, source_addr, success, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, e.ID, nullIfEmpty(e.ActorID), e.Action, e.SourceAddr, e.Success, e.CreatedAt)
	return err
}

func (s *AuditEntries) List(ctx context.Context) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, action, source_addr, success, created_at
		from audit_log
		order by created_at desc, id desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e     audit.Entry
			actor sql.NullString
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.SourceAddr, &e.Success, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = actor.String
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
