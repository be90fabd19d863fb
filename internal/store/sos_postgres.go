package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

func requestQuery() sq.SelectBuilder {
	return psql.Select(
		"r.id", "r.hospital_id", "COALESCE(h.name, '')", "r.blood_type", "r.units", "r.is_critical",
		"r.status", "r.created_at", "r.updated_at",
	).From("sos_requests r").LeftJoin("users h ON h.id = r.hospital_id").OrderBy("r.created_at DESC", "r.id DESC")
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req SOSRequest) (SOSRequest, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sos_requests (id, hospital_id, blood_type, units, is_critical, status)
		VALUES ($1, $2, $3, $4, $5, 'open')
		RETURNING status, created_at, updated_at
	`, req.ID, req.HospitalID, string(req.BloodType), req.Units, req.IsCritical).Scan(&req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return SOSRequest{}, fmt.Errorf("insert sos request: %w", err)
	}
	req.AcceptedDonors = nil
	return req, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (SOSRequest, error) {
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q queryer, id string) (SOSRequest, error) {
	requests, err := queryRequests(ctx, q, requestQuery().Where(sq.Eq{"r.id": id}))
	if err != nil {
		return SOSRequest{}, err
	}
	if len(requests) == 0 {
		return SOSRequest{}, ErrNotFound
	}
	return requests[0], nil
}

func queryRequests(ctx context.Context, q queryer, builder sq.SelectBuilder) ([]SOSRequest, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sos query: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sos requests: %w", err)
	}
	defer rows.Close()

	requests := make([]SOSRequest, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var req SOSRequest
		if err := rows.Scan(&req.ID, &req.HospitalID, &req.HospitalName, &req.BloodType, &req.Units, &req.IsCritical,
			&req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sos request: %w", err)
		}
		requests = append(requests, req)
		ids = append(ids, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return requests, nil
	}

	entries, err := loadEntries(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range requests {
		requests[i].AcceptedDonors = entries[requests[i].ID]
	}
	return requests, nil
}

func loadEntries(ctx context.Context, q queryer, requestIDs []string) (map[string][]DonorEntry, error) {
	query, args, err := psql.Select("e.request_id", "e.donor_id", "COALESCE(u.name, '')", "e.status", "e.accepted_at", "e.updated_at").
		From("sos_donor_entries e").
		LeftJoin("users u ON u.id = e.donor_id").
		Where(sq.Eq{"e.request_id": requestIDs}).
		OrderBy("e.seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build donor entry query: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query donor entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]DonorEntry, len(requestIDs))
	for rows.Next() {
		var (
			requestID string
			entry     DonorEntry
		)
		if err := rows.Scan(&requestID, &entry.DonorID, &entry.DonorName, &entry.Status, &entry.AcceptedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan donor entry: %w", err)
		}
		out[requestID] = append(out[requestID], entry)
	}
	return out, rows.Err()
}

// lockRequest takes the row lock that serialises every mutation of one request.
func lockRequest(ctx context.Context, tx *sql.Tx, id string) (RequestStatus, error) {
	var status RequestStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM sos_requests WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock sos request: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) withRequestLock(ctx context.Context, id string, fn func(tx *sql.Tx, status RequestStatus) error) (SOSRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SOSRequest{}, fmt.Errorf("begin sos tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockRequest(ctx, tx, id)
	if err != nil {
		return SOSRequest{}, err
	}
	if err := fn(tx, status); err != nil {
		return SOSRequest{}, err
	}
	req, err := getRequest(ctx, tx, id)
	if err != nil {
		return SOSRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return SOSRequest{}, fmt.Errorf("commit sos tx: %w", err)
	}
	return req, nil
}

func touchRequest(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE sos_requests SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch sos request: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendDonor(ctx context.Context, requestID, donorID string) (SOSRequest, error) {
	return s.withRequestLock(ctx, requestID, func(tx *sql.Tx, status RequestStatus) error {
		if status != StatusOpen {
			return ErrRequestClosed
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO sos_donor_entries (request_id, donor_id, status)
			VALUES ($1, $2, 'pending')
			ON CONFLICT ON CONSTRAINT sos_donor_entries_request_donor_key DO NOTHING
		`, requestID, donorID)
		if err != nil {
			return fmt.Errorf("insert donor entry: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert donor entry rows: %w", err)
		}
		if affected == 0 {
			return ErrAlreadyAccepted
		}
		return touchRequest(ctx, tx, requestID)
	})
}

func (s *PostgresStore) ApproveDonor(ctx context.Context, requestID, donorID string) (SOSRequest, error) {
	return s.withRequestLock(ctx, requestID, func(tx *sql.Tx, status RequestStatus) error {
		if status != StatusOpen {
			return ErrRequestClosed
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE sos_donor_entries SET status = 'approved', updated_at = NOW()
			WHERE request_id = $1 AND donor_id = $2
		`, requestID, donorID)
		if err != nil {
			return fmt.Errorf("approve donor entry: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("approve donor entry rows: %w", err)
		}
		if affected == 0 {
			return ErrEntryNotFound
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sos_requests SET status = 'completed', updated_at = NOW() WHERE id = $1`, requestID); err != nil {
			return fmt.Errorf("complete sos request: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RejectDonor(ctx context.Context, requestID, donorID string) (bool, error) {
	changed := false
	_, err := s.withRequestLock(ctx, requestID, func(tx *sql.Tx, _ RequestStatus) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE sos_donor_entries SET status = 'rejected', updated_at = NOW()
			WHERE request_id = $1 AND donor_id = $2 AND status = 'pending'
		`, requestID, donorID)
		if err != nil {
			return fmt.Errorf("reject donor entry: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("reject donor entry rows: %w", err)
		}
		if affected == 0 {
			return nil
		}
		changed = true
		return touchRequest(ctx, tx, requestID)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *PostgresStore) CancelRequest(ctx context.Context, requestID string) (SOSRequest, error) {
	return s.withRequestLock(ctx, requestID, func(tx *sql.Tx, status RequestStatus) error {
		if status != StatusOpen {
			return ErrRequestClosed
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sos_requests SET status = 'cancelled', updated_at = NOW() WHERE id = $1`, requestID); err != nil {
			return fmt.Errorf("cancel sos request: %w", err)
		}
		return nil
	})
}

// ExpireStale is one conditional bulk UPDATE; rows locked by an in-flight
// accept/approve are re-checked by Postgres after that transaction commits.
func (s *PostgresStore) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sos_requests SET status = 'expired', updated_at = NOW()
		WHERE status = 'open' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale sos requests: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire stale rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) ListRequestsByHospital(ctx context.Context, hospitalID string) ([]SOSRequest, error) {
	return queryRequests(ctx, s.db, requestQuery().Where(sq.Eq{"r.hospital_id": hospitalID}))
}

func (s *PostgresStore) ListRequestsByDonor(ctx context.Context, donorID string) ([]SOSRequest, error) {
	return queryRequests(ctx, s.db, requestQuery().Where(
		sq.Expr("EXISTS (SELECT 1 FROM sos_donor_entries e WHERE e.request_id = r.id AND e.donor_id = ?)", donorID),
	))
}

func (s *PostgresStore) ListOpenRequestsByBloodType(ctx context.Context, bloodType BloodType) ([]SOSRequest, error) {
	return queryRequests(ctx, s.db, requestQuery().Where(sq.Eq{"r.blood_type": string(bloodType), "r.status": string(StatusOpen)}))
}

func (s *PostgresStore) ListAllRequests(ctx context.Context) ([]SOSRequest, error) {
	return queryRequests(ctx, s.db, requestQuery())
}

func (s *PostgresStore) CountRequests(ctx context.Context) (RequestCounts, error) {
	var counts RequestCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status IN ('completed', 'fulfilled'))
		FROM sos_requests
	`).Scan(&counts.Total, &counts.Completed)
	if err != nil {
		return RequestCounts{}, fmt.Errorf("count sos requests: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) DemandByBloodType(ctx context.Context) ([]BloodTypeCount, error) {
	return s.groupByBloodType(ctx, `SELECT blood_type, COUNT(*) FROM sos_requests GROUP BY blood_type`)
}
