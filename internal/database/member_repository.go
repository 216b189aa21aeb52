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

// Identity conflict errors surfaced with the discriminators clients key on.
var (
	ErrEmailTaken    = errors.New("email already belongs to a member")
	ErrUsernameTaken = errors.New("username already belongs to a member")
)

// MemberRepository provides access to member records.
type MemberRepository struct {
	db *sql.DB
}

// NewMemberRepository creates a repository using the given connection.
func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = `id, email, username, group_id, created_at, updated_at`

// CreateMember inserts a new member. The ID and timestamps are assigned here
// when unset. Email and username uniqueness is enforced case-insensitively;
// the returned error identifies which field collided.
func (r *MemberRepository) CreateMember(m *models.Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO members (id, email, username, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Email, m.Username, m.GroupID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return r.conflictError(m.Email, m.Username)
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// conflictError resolves which unique constraint fired. The extra lookups run
// after the failed insert, so a racing delete can at worst soften the error.
func (r *MemberRepository) conflictError(email, username string) error {
	byEmail, err := r.GetByEmail(email)
	if err != nil {
		return err
	}
	if byEmail != nil {
		return ErrEmailTaken
	}
	byUsername, err := r.GetByUsername(username)
	if err != nil {
		return err
	}
	if byUsername != nil {
		return ErrUsernameTaken
	}
	return errors.New("member conflicts with an existing record")
}

// GetByID returns the member with the given ID, or nil if absent.
func (r *MemberRepository) GetByID(id string) (*models.Member, error) {
	row := r.db.QueryRow(`SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	return scanMember(row)
}

// GetByEmail returns the member with the given email, or nil if absent.
func (r *MemberRepository) GetByEmail(email string) (*models.Member, error) {
	row := r.db.QueryRow(`SELECT `+memberColumns+` FROM members WHERE email = ?`, email)
	return scanMember(row)
}

// GetByUsername returns the member with the given username, or nil if absent.
func (r *MemberRepository) GetByUsername(username string) (*models.Member, error) {
	row := r.db.QueryRow(`SELECT `+memberColumns+` FROM members WHERE username = ?`, username)
	return scanMember(row)
}

// List returns all members, newest first.
func (r *MemberRepository) List() ([]models.Member, error) {
	rows, err := r.db.Query(`SELECT ` + memberColumns + ` FROM members ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.Email, &m.Username, &m.GroupID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// ListByGroup returns the members of a group, newest first.
func (r *MemberRepository) ListByGroup(groupID string) ([]models.Member, error) {
	rows, err := r.db.Query(`SELECT `+memberColumns+` FROM members WHERE group_id = ? ORDER BY created_at DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query members by group: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.Email, &m.Username, &m.GroupID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// Delete removes a member.
func (r *MemberRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

func scanMember(row *sql.Row) (*models.Member, error) {
	var m models.Member
	err := row.Scan(&m.ID, &m.Email, &m.Username, &m.GroupID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	return &m, nil
}
