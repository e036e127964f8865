package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"festra/models"
	"festra/realtime"
	"festra/repositories"
)

const (
	inviteCodeLength   = 8
	inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"
	maxInviteAttempts  = 3
)

var ErrInviteCodeGeneration = errors.New("failed to generate unique invite code")

type TeamService interface {
	CreateTeam(ctx context.Context, eventID, leaderID int, teamName string, teamSize int) (*models.Team, error)
	JoinTeam(ctx context.Context, inviteCode string, joinerID int) (*models.Team, error)
	LeaveTeam(ctx context.Context, teamID, userID int) error
	DeleteTeam(ctx context.Context, teamID, actorID int) error
	GetTeam(ctx context.Context, teamID int) (*models.Team, error)
	ListTeamsByEvent(ctx context.Context, eventID int) ([]*models.Team, error)

	// CompleteRegistrationBatch issues confirmed registrations for every
	// member of a completed team that lacks one. Safe to retry: members
	// already holding a live registration are skipped.
	CompleteRegistrationBatch(ctx context.Context, teamID int) error
}

type teamService struct {
	teams         repositories.TeamRepository
	events        repositories.EventRepository
	users         repositories.UserRepository
	registrations repositories.RegistrationRepository
	lifecycle     RegistrationService
	notifier      Notifier
	hub           *realtime.Hub
	now           func() time.Time
}

func NewTeamService(
	teams repositories.TeamRepository,
	events repositories.EventRepository,
	users repositories.UserRepository,
	registrations repositories.RegistrationRepository,
	lifecycle RegistrationService,
	notifier Notifier,
	hub *realtime.Hub,
) TeamService {
	return &teamService{
		teams:         teams,
		events:        events,
		users:         users,
		registrations: registrations,
		lifecycle:     lifecycle,
		notifier:      notifier,
		hub:           hub,
		now:           time.Now,
	}
}

func generateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, inviteCodeLength)
	for i, b := range buf {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(code), nil
}

func (s *teamService) getEvent(ctx context.Context, id int) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event %d: %w", id, err)
	}
	return event, nil
}

func (s *teamService) CreateTeam(ctx context.Context, eventID, leaderID int, teamName string, teamSize int) (*models.Team, error) {
	if teamName == "" {
		return nil, ErrTeamNameRequired
	}
	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsTeamEvent {
		return nil, ErrNotTeamEvent
	}
	if !event.RegistrationOpen(s.now()) {
		if event.Status != models.EventStatusPublished {
			return nil, ErrEventNotOpen
		}
		return nil, ErrDeadlinePassed
	}
	if teamSize < event.MinTeamSize || teamSize > event.MaxTeamSize {
		return nil, ErrInvalidTeamSize
	}
	// A team that can never fit into the event is rejected up front;
	// completion issues one registration per member.
	if teamSize > event.RegistrationLimit {
		return nil, ErrInvalidTeamSize
	}

	if _, err := s.teams.FindByUserAndEvent(ctx, leaderID, eventID); err == nil {
		return nil, ErrAlreadyInAnotherTeam
	} else if !errors.Is(err, repositories.ErrTeamNotFound) {
		return nil, fmt.Errorf("failed to check existing team membership: %w", err)
	}

	// Invite-code uniqueness lives in the storage constraint; retry on a
	// collision instead of pre-checking.
	for attempt := 0; attempt < maxInviteAttempts; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInviteCodeGeneration, err)
		}
		team := &models.Team{
			EventID:    eventID,
			Name:       teamName,
			LeaderID:   leaderID,
			TeamSize:   teamSize,
			InviteCode: code,
		}
		err = s.teams.Create(ctx, team)
		if err == nil {
			return team, nil
		}
		if errors.Is(err, repositories.ErrTeamInviteCodeConflict) {
			continue
		}
		if errors.Is(err, repositories.ErrTeamNameConflict) {
			return nil, ErrTeamNameConflict
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrInviteCodeGeneration, maxInviteAttempts)
}

func (s *teamService) JoinTeam(ctx context.Context, inviteCode string, joinerID int) (*models.Team, error) {
	team, err := s.teams.GetByInviteCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrInvalidInviteCode
		}
		return nil, err
	}
	if team.IsComplete {
		// A member retrying the join that completed the team resumes a
		// partially issued registration batch instead of dead-ending.
		full, err := s.GetTeam(ctx, team.ID)
		if err != nil {
			return nil, err
		}
		if full.LeaderID == joinerID || full.HasMember(joinerID) {
			if full.RegistrationID == nil {
				if err := s.CompleteRegistrationBatch(ctx, team.ID); err != nil {
					return nil, err
				}
			}
			return s.GetTeam(ctx, team.ID)
		}
		return nil, ErrTeamComplete
	}
	if team.LeaderID == joinerID {
		return nil, ErrIsLeader
	}

	if existing, err := s.teams.FindByUserAndEvent(ctx, joinerID, team.EventID); err == nil {
		if existing.ID == team.ID {
			return nil, ErrAlreadyMember
		}
		return nil, ErrAlreadyInAnotherTeam
	} else if !errors.Is(err, repositories.ErrTeamNotFound) {
		return nil, fmt.Errorf("failed to check existing team membership: %w", err)
	}

	// Capacity check and append happen as one atomic step per team.
	if _, err := s.teams.AddMemberIfCapacity(ctx, team.ID, joinerID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrTeamComplete):
			return nil, ErrTeamComplete
		case errors.Is(err, repositories.ErrTeamMemberConflict):
			return nil, ErrAlreadyMember
		case errors.Is(err, repositories.ErrTeamNotFound):
			return nil, ErrTeamNotFound
		}
		return nil, err
	}

	// is_complete flips exactly once; only the join that filled the last
	// slot triggers the registration batch.
	completed, err := s.teams.CompleteIfFull(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	if completed {
		if err := s.CompleteRegistrationBatch(ctx, team.ID); err != nil {
			return nil, err
		}
	}
	return s.GetTeam(ctx, team.ID)
}

func (s *teamService) CompleteRegistrationBatch(ctx context.Context, teamID int) error {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return ErrTeamNotFound
		}
		return err
	}
	if !team.IsComplete {
		return ErrTeamNotComplete
	}
	event, err := s.getEvent(ctx, team.EventID)
	if err != nil {
		return err
	}
	members, err := s.teams.ListMembers(ctx, teamID)
	if err != nil {
		return err
	}

	memberIDs := []int{team.LeaderID}
	for _, m := range members {
		if m.Status == models.MemberAccepted {
			memberIDs = append(memberIDs, m.UserID)
		}
	}

	var leaderRegistrationID int
	for _, userID := range memberIDs {
		// Re-check before creating so a retried trigger never doubles
		// the batch.
		existing, err := s.registrations.FindActiveByParticipantAndEvent(ctx, userID, team.EventID)
		if err == nil {
			if userID == team.LeaderID {
				leaderRegistrationID = existing.ID
			}
			continue
		}
		if !errors.Is(err, repositories.ErrRegistrationNotFound) {
			return err
		}

		member, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get team member %d: %w", userID, err)
		}
		reg, err := s.lifecycle.CreateTeamRegistration(ctx, event, member, teamID)
		if err != nil {
			if errors.Is(err, ErrAlreadyRegistered) {
				continue // lost a race with a retried trigger
			}
			return err
		}
		if userID == team.LeaderID {
			leaderRegistrationID = reg.ID
		}

		s.notifier.Notify(ctx, userID, models.TemplateTeamCompleted, map[string]interface{}{
			"event_name": event.Name,
			"team_name":  team.Name,
			"ticket_id":  reg.TicketID,
		})
	}

	if team.RegistrationID == nil && leaderRegistrationID != 0 {
		if err := s.teams.SetRegistrationID(ctx, teamID, leaderRegistrationID); err != nil {
			return err
		}
	}

	s.hub.Publish(realtime.EventRoom(team.EventID), realtime.MsgTeamCompleted, map[string]interface{}{
		"team_id":   teamID,
		"team_name": team.Name,
	})
	return nil
}

func (s *teamService) LeaveTeam(ctx context.Context, teamID, userID int) error {
	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if team.IsComplete {
		return ErrTeamComplete
	}
	if team.LeaderID == userID {
		return ErrLeaderCannotLeave
	}
	if err := s.teams.RemoveMember(ctx, teamID, userID); err != nil {
		if errors.Is(err, repositories.ErrTeamMemberNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *teamService) DeleteTeam(ctx context.Context, teamID, actorID int) error {
	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if team.LeaderID != actorID {
		return ErrLeaderActionOnly
	}
	if team.IsComplete {
		return ErrTeamComplete
	}
	if err := s.teams.Delete(ctx, teamID); err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return ErrTeamNotFound
		}
		return err
	}
	return nil
}

func (s *teamService) GetTeam(ctx context.Context, teamID int) (*models.Team, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	members, err := s.teams.ListMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	team.Members = members
	return team, nil
}

func (s *teamService) ListTeamsByEvent(ctx context.Context, eventID int) ([]*models.Team, error) {
	if _, err := s.getEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.teams.ListByEvent(ctx, eventID)
}
