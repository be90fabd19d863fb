package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, name, email, phone, password_hash, role, COALESCE(blood_type, ''), is_available, is_active, last_donation_date, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user      User
		bloodType string
		lastDon   sql.NullTime
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &user.PasswordHash, &user.Role, &bloodType,
		&user.IsAvailable, &user.IsActive, &lastDon, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.BloodType = BloodType(bloodType)
	if lastDon.Valid {
		value := lastDon.Time
		user.LastDonationDate = &value
	}
	return user, nil
}

func nullableBloodType(bt BloodType) any {
	if bt == "" {
		return nil
	}
	return string(bt)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, phone, password_hash, role, blood_type, is_available, is_active, last_donation_date)
		VALUES ($1, $2, LOWER(TRIM($3)), $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.Name, user.Email, user.Phone, user.PasswordHash, user.Role, nullableBloodType(user.BloodType),
		user.IsAvailable, user.IsActive, user.LastDonationDate)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER(TRIM($1))`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	builder := psql.Select(userColumns).From("users").OrderBy("created_at DESC", "id")
	if filter.Role != "" {
		builder = builder.Where(sq.Eq{"role": filter.Role})
	}
	if len(filter.IDs) > 0 {
		builder = builder.Where(sq.Eq{"id": filter.IDs})
	}
	if query := strings.TrimSpace(filter.Query); query != "" {
		pattern := "%" + query + "%"
		builder = builder.Where(sq.Or{sq.ILike{"name": pattern}, sq.ILike{"email": pattern}})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user active rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleUserActive flips is_active in one statement. Admin rows never match
// and come back as ErrNotFound.
func (s *PostgresStore) ToggleUserActive(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET is_active = NOT is_active, updated_at = NOW()
		WHERE id = $1 AND role <> 'admin'
		RETURNING `+userColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("toggle user active: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateDonorProfile(ctx context.Context, id string, update DonorProfileUpdate) (User, error) {
	builder := psql.Update("users").Where(sq.Eq{"id": id}).Set("updated_at", sq.Expr("NOW()"))
	if update.BloodType != nil {
		builder = builder.Set("blood_type", nullableBloodType(*update.BloodType))
	}
	if update.IsAvailable != nil {
		builder = builder.Set("is_available", *update.IsAvailable)
	}
	if update.Phone != nil {
		builder = builder.Set("phone", *update.Phone)
	}
	if update.LastDonationDate != nil {
		builder = builder.Set("last_donation_date", *update.LastDonationDate)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build donor profile update: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return User{}, fmt.Errorf("update donor profile: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return User{}, ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *PostgresStore) CountUsers(ctx context.Context) (UserCounts, error) {
	var counts UserCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE role = 'donor'),
			COUNT(*) FILTER (WHERE role = 'hospital')
		FROM users
	`).Scan(&counts.Total, &counts.Donors, &counts.Hospitals)
	if err != nil {
		return UserCounts{}, fmt.Errorf("count users: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) SupplyByBloodType(ctx context.Context) ([]BloodTypeCount, error) {
	return s.groupByBloodType(ctx, `
		SELECT blood_type, COUNT(*) FROM users
		WHERE role = 'donor' AND is_active AND blood_type IS NOT NULL
		GROUP BY blood_type
	`)
}

func (s *PostgresStore) groupByBloodType(ctx context.Context, query string) ([]BloodTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("group by blood type: %w", err)
	}
	defer rows.Close()

	counts := map[BloodType]int{}
	for rows.Next() {
		var (
			bt    string
			count int
		)
		if err := rows.Scan(&bt, &count); err != nil {
			return nil, fmt.Errorf("scan blood type count: %w", err)
		}
		counts[BloodType(bt)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortedCounts(counts), nil
}

func (s *PostgresStore) UpsertHospital(ctx context.Context, hospital Hospital) (Hospital, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO hospital_profiles (user_id, name, registration_number, address, contact_phone, contact_email, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			registration_number = EXCLUDED.registration_number,
			address = EXCLUDED.address,
			contact_phone = EXCLUDED.contact_phone,
			contact_email = EXCLUDED.contact_email,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, hospital.UserID, hospital.Name, hospital.RegistrationNumber, hospital.Address, hospital.ContactPhone,
		hospital.ContactEmail, hospital.Latitude, hospital.Longitude).Scan(&hospital.CreatedAt, &hospital.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Hospital{}, ErrNotFound
		}
		return Hospital{}, fmt.Errorf("upsert hospital: %w", err)
	}
	return hospital, nil
}

func (s *PostgresStore) GetHospital(ctx context.Context, userID string) (Hospital, error) {
	var (
		hospital Hospital
		lat, lng sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, registration_number, address, contact_phone, contact_email, latitude, longitude, created_at, updated_at
		FROM hospital_profiles WHERE user_id = $1
	`, userID).Scan(&hospital.UserID, &hospital.Name, &hospital.RegistrationNumber, &hospital.Address,
		&hospital.ContactPhone, &hospital.ContactEmail, &lat, &lng, &hospital.CreatedAt, &hospital.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Hospital{}, ErrNotFound
	}
	if err != nil {
		return Hospital{}, fmt.Errorf("get hospital: %w", err)
	}
	if lat.Valid {
		hospital.Latitude = &lat.Float64
	}
	if lng.Valid {
		hospital.Longitude = &lng.Float64
	}
	return hospital, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.phone, u.password_hash, u.role, COALESCE(u.blood_type, ''), u.is_available,
			u.is_active, u.last_donation_date, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1 AND rs.revoked_at IS NULL AND rs.expires_at > NOW()
	`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti = $1)`, jti).Scan(&revoked); err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
