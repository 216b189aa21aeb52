package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"groupwatch/models"
)

// ErrDuplicateRequest is returned when a (invitation code, email) pair
// already has a join request.
var ErrDuplicateRequest = errors.New("join request already exists for this invitation and email")

// RequestRepository provides access to join request records.
type RequestRepository struct {
	db *sql.DB
}

// NewRequestRepository creates a repository using the given connection.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, invitation_code, email, username, status, oauth_link, oauth_code, oauth_expires_at, member_id, created_at, updated_at`

// CreateRequest inserts a new join request. The ID and timestamps are
// assigned here when unset.
func (r *RequestRepository) CreateRequest(req *models.JoinRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = models.RequestPending
	}

	_, err := r.db.Exec(`
		INSERT INTO join_requests (id, invitation_code, email, username, status, oauth_link, oauth_code, oauth_expires_at, member_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.InvitationCode, req.Email, req.Username, string(req.Status),
		nullString(req.OAuthLink), nullString(req.OAuthCode), nullTime(req.OAuthExpiresAt),
		nullString(req.MemberID), req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("insert join request: %w", err)
	}
	return nil
}

// GetByID returns the request with the given ID, or nil if absent.
func (r *RequestRepository) GetByID(id string) (*models.JoinRequest, error) {
	row := r.db.QueryRow(`SELECT `+requestColumns+` FROM join_requests WHERE id = ?`, id)
	return scanRequest(row)
}

// GetByCodeEmail returns the request for an (invitation code, email) pair, or
// nil if absent. Email matching is case-insensitive.
func (r *RequestRepository) GetByCodeEmail(code, email string) (*models.JoinRequest, error) {
	row := r.db.QueryRow(`SELECT `+requestColumns+` FROM join_requests WHERE invitation_code = ? AND email = ?`, code, email)
	return scanRequest(row)
}

// ListByCode returns all requests submitted against an invitation code,
// newest first.
func (r *RequestRepository) ListByCode(code string) ([]models.JoinRequest, error) {
	rows, err := r.db.Query(`SELECT `+requestColumns+` FROM join_requests WHERE invitation_code = ? ORDER BY created_at DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("query join requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// List returns all join requests, newest first.
func (r *RequestRepository) List() ([]models.JoinRequest, error) {
	rows, err := r.db.Query(`SELECT ` + requestColumns + ` FROM join_requests ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query join requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// UpdateStatus sets the lifecycle status of a request.
func (r *RequestRepository) UpdateStatus(id string, status models.RequestStatus) error {
	res, err := r.db.Exec(`UPDATE join_requests SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update join request status: %w", err)
	}
	return requireRowAffected(res, "join request")
}

// SetOAuth stores a freshly issued link/code pair on the request.
func (r *RequestRepository) SetOAuth(id, link, code string, expiresAt time.Time) error {
	res, err := r.db.Exec(`UPDATE join_requests SET oauth_link = ?, oauth_code = ?, oauth_expires_at = ?, updated_at = ? WHERE id = ?`,
		link, code, expiresAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set join request oauth: %w", err)
	}
	return requireRowAffected(res, "join request")
}

// ClearOAuth removes the link/code pair from the request. Clients observe the
// missing link as a renewal and wait for a new one.
func (r *RequestRepository) ClearOAuth(id string) error {
	res, err := r.db.Exec(`UPDATE join_requests SET oauth_link = NULL, oauth_code = NULL, oauth_expires_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear join request oauth: %w", err)
	}
	return requireRowAffected(res, "join request")
}

// Complete marks the request completed and links it to the created member.
// The OAuth fields are cleared; a completed request has no redeemable link.
func (r *RequestRepository) Complete(id, memberID string) error {
	res, err := r.db.Exec(`UPDATE join_requests SET status = ?, member_id = ?, oauth_link = NULL, oauth_code = NULL, oauth_expires_at = NULL, updated_at = ? WHERE id = ?`,
		string(models.RequestCompleted), memberID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete join request: %w", err)
	}
	return requireRowAffected(res, "join request")
}

// Delete removes a single request.
func (r *RequestRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM join_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete join request: %w", err)
	}
	return nil
}

// DeleteByCode removes every request tied to an invitation code. Used when an
// invitation is deleted; pollers observe the missing record as a 404.
func (r *RequestRepository) DeleteByCode(code string) error {
	_, err := r.db.Exec(`DELETE FROM join_requests WHERE invitation_code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete join requests by code: %w", err)
	}
	return nil
}

// DeletePendingBefore removes pending requests last touched before the cutoff
// and returns how many were removed. Accepted and completed requests are
// never pruned.
func (r *RequestRepository) DeletePendingBefore(cutoff time.Time) (int, error) {
	res, err := r.db.Exec(`DELETE FROM join_requests WHERE status = ? AND updated_at < ?`,
		string(models.RequestPending), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune pending join requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func collectRequests(rows *sql.Rows) ([]models.JoinRequest, error) {
	var requests []models.JoinRequest
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate join requests: %w", err)
	}
	return requests, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row *sql.Row) (*models.JoinRequest, error) {
	req, err := scanRequestRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func scanRequestRow(row rowScanner) (*models.JoinRequest, error) {
	var (
		req       models.JoinRequest
		status    string
		link      sql.NullString
		code      sql.NullString
		expiresAt sql.NullTime
		memberID  sql.NullString
	)
	err := row.Scan(&req.ID, &req.InvitationCode, &req.Email, &req.Username, &status,
		&link, &code, &expiresAt, &memberID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan join request: %w", err)
	}

	req.Status = models.RequestStatus(status)
	if link.Valid {
		req.OAuthLink = link.String
	}
	if code.Valid {
		req.OAuthCode = code.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		req.OAuthExpiresAt = &t
	}
	if memberID.Valid {
		req.MemberID = memberID.String
	}
	return &req, nil
}

func requireRowAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found", what)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
