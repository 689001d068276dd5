package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"collab-service/internal/models"
)

// CommunityRepo is a sqlx implementation of CommunityRepository.
type CommunityRepo struct {
	tx *sqlx.Tx
}

func (r *CommunityRepo) CreateCommunity(ctx context.Context, name string, ownerID int) (models.Community, error) {
	var community models.Community
	err := r.tx.QueryRowxContext(ctx, `INSERT INTO communities (name, owner_id) VALUES ($1, $2) RETURNING id, name, owner_id, created_at`, name, ownerID).
		Scan(&community.ID, &community.Name, &community.OwnerID, &community.CreatedAt)
	return community, err
}

func (r *CommunityRepo) GetCommunity(ctx context.Context, communityID int) (models.Community, error) {
	var community models.Community
	err := r.tx.GetContext(ctx, &community, `SELECT id, name, owner_id, created_at FROM communities WHERE id=$1`, communityID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Community{}, ErrCommunityNotFound
	}
	return community, err
}

func (r *CommunityRepo) LockCommunity(ctx context.Context, communityID int) (models.Community, error) {
	var community models.Community
	err := r.tx.GetContext(ctx, &community, `SELECT id, name, owner_id, created_at FROM communities WHERE id=$1 FOR UPDATE`, communityID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Community{}, ErrCommunityNotFound
	}
	return community, err
}

// CommunitiesForUser returns the user's communities keyed by participant id.
func (r *CommunityRepo) CommunitiesForUser(ctx context.Context, userID int) (map[int]models.Community, error) {
	rows, err := r.tx.QueryxContext(ctx, `SELECT p.id AS participant_id, c.id, c.name, c.owner_id, c.created_at
        FROM participants p INNER JOIN communities c ON c.id = p.community_id
        WHERE p.user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[int]models.Community{}
	for rows.Next() {
		var participantID int
		var community models.Community
		if err := rows.Scan(&participantID, &community.ID, &community.Name, &community.OwnerID, &community.CreatedAt); err != nil {
			return nil, err
		}
		result[participantID] = community
	}
	return result, rows.Err()
}

// CreateParticipant inserts a detached participant row; callers link it into the user's list.
func (r *CommunityRepo) CreateParticipant(ctx context.Context, communityID int, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.tx.QueryRowxContext(ctx, `INSERT INTO participants (community_id, user_id) VALUES ($1, $2)
        RETURNING id, community_id, user_id, prev_id, next_id`, communityID, userID).
		Scan(&p.ID, &p.CommunityID, &p.UserID, &p.PrevID, &p.NextID)
	if isUniqueViolation(err) {
		return models.Participant{}, ErrAlreadyParticipant
	}
	return p, err
}

func (r *CommunityRepo) GetParticipant(ctx context.Context, communityID int, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.tx.GetContext(ctx, &p, `SELECT id, community_id, user_id, prev_id, next_id FROM participants WHERE community_id=$1 AND user_id=$2`, communityID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

func (r *CommunityRepo) DeleteParticipant(ctx context.Context, participantID int) error {
	return execOne(ctx, r.tx, ErrParticipantNotFound, `DELETE FROM participants WHERE id=$1`, participantID)
}

// Permissions returns the union of permissions granted by the participant's roles.
func (r *CommunityRepo) Permissions(ctx context.Context, participantID int) ([]models.Permission, error) {
	var perms []models.Permission
	err := r.tx.SelectContext(ctx, &perms, `SELECT DISTINCT rp.permission
        FROM participant_roles pr INNER JOIN role_permissions rp ON rp.role_id = pr.role_id
        WHERE pr.participant_id=$1 ORDER BY rp.permission`, participantID)
	return perms, err
}

func (r *CommunityRepo) CreateRole(ctx context.Context, role models.Role) (models.Role, error) {
	if err := r.tx.QueryRowxContext(ctx, `INSERT INTO roles (community_id, name, color) VALUES ($1, $2, $3) RETURNING id`,
		role.CommunityID, role.Name, role.Color).Scan(&role.ID); err != nil {
		return models.Role{}, err
	}
	for _, perm := range role.Permissions {
		if _, err := r.tx.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`, role.ID, perm); err != nil {
			return models.Role{}, err
		}
	}
	return role, nil
}

func (r *CommunityRepo) GetRole(ctx context.Context, communityID int, roleID int) (models.Role, error) {
	var role models.Role
	err := r.tx.GetContext(ctx, &role, `SELECT id, community_id, name, color FROM roles WHERE id=$1 AND community_id=$2`, roleID, communityID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Role{}, ErrRoleNotFound
	}
	if err != nil {
		return models.Role{}, err
	}
	err = r.tx.SelectContext(ctx, &role.Permissions, `SELECT permission FROM role_permissions WHERE role_id=$1 ORDER BY permission`, roleID)
	return role, err
}

func (r *CommunityRepo) DeleteRole(ctx context.Context, roleID int) error {
	return execOne(ctx, r.tx, ErrRoleNotFound, `DELETE FROM roles WHERE id=$1`, roleID)
}

func (r *CommunityRepo) CountRoles(ctx context.Context, communityID int) (int, error) {
	var count int
	err := r.tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM roles WHERE community_id=$1`, communityID)
	return count, err
}

func (r *CommunityRepo) AssignRole(ctx context.Context, participantID int, roleID int) error {
	_, err := r.tx.ExecContext(ctx, `INSERT INTO participant_roles (participant_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, participantID, roleID)
	return err
}

func (r *CommunityRepo) CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error) {
	err := r.tx.QueryRowxContext(ctx, `INSERT INTO invitations (community_id, code, usage_limit, expiry, created_by)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`, inv.CommunityID, inv.Code, inv.UsageLimit, inv.Expiry, inv.CreatedBy).Scan(&inv.ID)
	return inv, err
}

// LockInvitation reads an invitation by code and row-locks it for consumption.
func (r *CommunityRepo) LockInvitation(ctx context.Context, code string) (models.Invitation, error) {
	var inv models.Invitation
	err := r.tx.GetContext(ctx, &inv, `SELECT id, community_id, code, usage_limit, expiry, created_by FROM invitations WHERE code=$1 FOR UPDATE`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invitation{}, ErrInvitationNotFound
	}
	return inv, err
}

func (r *CommunityRepo) SetInvitationLimit(ctx context.Context, invitationID int, limit *int) error {
	return execOne(ctx, r.tx, ErrInvitationNotFound, `UPDATE invitations SET usage_limit=$1 WHERE id=$2`, limit, invitationID)
}

func (r *CommunityRepo) DeleteInvitation(ctx context.Context, invitationID int) error {
	return execOne(ctx, r.tx, ErrInvitationNotFound, `DELETE FROM invitations WHERE id=$1`, invitationID)
}

func execOne(ctx context.Context, tx *sqlx.Tx, notFound error, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
