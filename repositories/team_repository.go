package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"festra/models"

	"github.com/lib/pq"
)

var (
	ErrTeamNotFound           = errors.New("team not found")
	ErrTeamInviteCodeConflict = errors.New("team invite code conflict")
	ErrTeamNameConflict       = errors.New("team name conflict for this event")
	ErrTeamComplete           = errors.New("team is already complete")
	ErrTeamMemberConflict     = errors.New("user is already a member of this team")
	ErrTeamMemberNotFound     = errors.New("team member not found")
)

type TeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	GetByID(ctx context.Context, id int) (*models.Team, error)
	GetByInviteCode(ctx context.Context, code string) (*models.Team, error)
	// FindByUserAndEvent returns the team the user leads or has a
	// non-declined membership in for this event.
	FindByUserAndEvent(ctx context.Context, userID, eventID int) (*models.Team, error)
	ListMembers(ctx context.Context, teamID int) ([]models.TeamMember, error)
	ListByEvent(ctx context.Context, eventID int) ([]*models.Team, error)

	// AddMemberIfCapacity appends an accepted member while accepted
	// members + leader stay below team_size, as one atomic step per team
	// (the team row is locked for the check-and-append). Fails
	// ErrTeamComplete when the team is full or completed, and
	// ErrTeamMemberConflict on a duplicate join.
	AddMemberIfCapacity(ctx context.Context, teamID, userID int) (*models.TeamMember, error)

	// CompleteIfFull flips is_complete exactly once, when accepted
	// members + 1 reach team_size. Returns whether this call flipped it.
	CompleteIfFull(ctx context.Context, teamID int) (bool, error)

	SetRegistrationID(ctx context.Context, teamID, registrationID int) error
	RemoveMember(ctx context.Context, teamID, userID int) error
	Delete(ctx context.Context, teamID int) error
}

type postgresTeamRepository struct {
	db *sql.DB
}

func NewPostgresTeamRepository(db *sql.DB) TeamRepository {
	return &postgresTeamRepository{db: db}
}

func (r *postgresTeamRepository) Create(ctx context.Context, team *models.Team) error {
	query := `
		INSERT INTO teams (event_id, name, leader_id, team_size, invite_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_complete, created_at`

	err := r.db.QueryRowContext(ctx, query,
		team.EventID, team.Name, team.LeaderID, team.TeamSize, team.InviteCode,
	).Scan(&team.ID, &team.IsComplete, &team.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case "teams_invite_code_key":
				return ErrTeamInviteCodeConflict
			case "teams_event_id_name_key":
				return ErrTeamNameConflict
			}
		}
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

const teamColumns = `id, event_id, name, leader_id, team_size, invite_code, is_complete, registration_id, created_at`

func (r *postgresTeamRepository) scanTeam(row *sql.Row) (*models.Team, error) {
	t := &models.Team{}
	err := row.Scan(
		&t.ID, &t.EventID, &t.Name, &t.LeaderID, &t.TeamSize,
		&t.InviteCode, &t.IsComplete, &t.RegistrationID, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to scan team: %w", err)
	}
	return t, nil
}

func (r *postgresTeamRepository) GetByID(ctx context.Context, id int) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	return r.scanTeam(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresTeamRepository) GetByInviteCode(ctx context.Context, code string) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE invite_code = $1`
	return r.scanTeam(r.db.QueryRowContext(ctx, query, code))
}

func (r *postgresTeamRepository) FindByUserAndEvent(ctx context.Context, userID, eventID int) (*models.Team, error) {
	query := `
		SELECT ` + teamColumns + `
		FROM teams t
		WHERE t.event_id = $2
		  AND (t.leader_id = $1 OR EXISTS (
			SELECT 1 FROM team_members m
			WHERE m.team_id = t.id AND m.user_id = $1 AND m.status <> 'declined'
		  ))
		LIMIT 1`
	return r.scanTeam(r.db.QueryRowContext(ctx, query, userID, eventID))
}

func (r *postgresTeamRepository) ListMembers(ctx context.Context, teamID int) ([]models.TeamMember, error) {
	query := `
		SELECT id, team_id, user_id, status, invited_at, responded_at
		FROM team_members
		WHERE team_id = $1
		ORDER BY invited_at ASC`

	rows, err := r.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	members := make([]models.TeamMember, 0)
	for rows.Next() {
		var m models.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Status, &m.InvitedAt, &m.RespondedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team member rows: %w", err)
	}
	return members, nil
}

func (r *postgresTeamRepository) ListByEvent(ctx context.Context, eventID int) ([]*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE event_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]*models.Team, 0)
	for rows.Next() {
		t := &models.Team{}
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.LeaderID, &t.TeamSize,
			&t.InviteCode, &t.IsComplete, &t.RegistrationID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team row: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team rows: %w", err)
	}
	return teams, nil
}

func (r *postgresTeamRepository) AddMemberIfCapacity(ctx context.Context, teamID, userID int) (*models.TeamMember, error) {
	var member *models.TeamMember
	err := WithTx(ctx, r.db, func(tx *sql.Tx) error {
		// Lock the team row so two concurrent joins on the same team
		// serialize; the capacity count below is then race-free.
		var teamSize int
		var isComplete bool
		err := tx.QueryRowContext(ctx,
			`SELECT team_size, is_complete FROM teams WHERE id = $1 FOR UPDATE`,
			teamID,
		).Scan(&teamSize, &isComplete)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTeamNotFound
			}
			return fmt.Errorf("failed to lock team %d: %w", teamID, err)
		}
		if isComplete {
			return ErrTeamComplete
		}

		var accepted int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND status = 'accepted'`,
			teamID,
		).Scan(&accepted)
		if err != nil {
			return fmt.Errorf("failed to count accepted members: %w", err)
		}
		// Leader occupies one slot without a member row.
		if accepted+1 >= teamSize {
			return ErrTeamComplete
		}

		member = &models.TeamMember{
			TeamID: teamID,
			UserID: userID,
			Status: models.MemberAccepted,
		}
		insert := `
			INSERT INTO team_members (team_id, user_id, status, invited_at, responded_at)
			VALUES ($1, $2, 'accepted', NOW(), NOW())
			RETURNING id, invited_at, responded_at`

		err = tx.QueryRowContext(ctx, insert, teamID, userID).Scan(&member.ID, &member.InvitedAt, &member.RespondedAt)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				if pqErr.Constraint == "team_members_team_id_user_id_key" {
					return ErrTeamMemberConflict
				}
			}
			return fmt.Errorf("failed to add team member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (r *postgresTeamRepository) CompleteIfFull(ctx context.Context, teamID int) (bool, error) {
	// Guarded flip: is_complete never reverts, and only one caller
	// observes the transition.
	query := `
		UPDATE teams
		SET is_complete = TRUE
		WHERE id = $1 AND NOT is_complete
		  AND (SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND status = 'accepted') + 1 >= team_size`

	result, err := r.db.ExecContext(ctx, query, teamID)
	if err != nil {
		return false, fmt.Errorf("failed to complete team %d: %w", teamID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rows > 0, nil
}

func (r *postgresTeamRepository) SetRegistrationID(ctx context.Context, teamID, registrationID int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE teams SET registration_id = $2 WHERE id = $1`, teamID, registrationID)
	if err != nil {
		return fmt.Errorf("failed to set team registration id: %w", err)
	}
	return checkAffectedRows(result, ErrTeamNotFound)
}

func (r *postgresTeamRepository) RemoveMember(ctx context.Context, teamID, userID int) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return checkAffectedRows(result, ErrTeamMemberNotFound)
}

func (r *postgresTeamRepository) Delete(ctx context.Context, teamID int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	return checkAffectedRows(result, ErrTeamNotFound)
}
