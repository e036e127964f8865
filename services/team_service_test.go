package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"festra/models"
)

func seedTeamEvent(env *testEnv, minSize, maxSize int) *models.Event {
	now := time.Now()
	return env.db.addEvent(&models.Event{
		Name:                 "Hackathon",
		Type:                 models.EventTypeNormal,
		Status:               models.EventStatusPublished,
		Eligibility:          models.AudienceAll,
		RegistrationLimit:    100,
		RegistrationDeadline: now.Add(24 * time.Hour),
		StartDate:            now.Add(48 * time.Hour),
		EndDate:              now.Add(72 * time.Hour),
		IsTeamEvent:          true,
		MinTeamSize:          minSize,
		MaxTeamSize:          maxSize,
	})
}

func TestCreateTeam(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 3)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if team.InviteCode == "" || len(team.InviteCode) != 8 {
		t.Errorf("expected 8-char invite code, got %q", team.InviteCode)
	}
	for _, c := range team.InviteCode {
		if !strings.ContainsRune(inviteCodeAlphabet, c) {
			t.Errorf("invite code contains %q outside the alphabet", c)
		}
	}
	if team.IsComplete {
		t.Error("new team must not be complete")
	}

	// The leader already belongs to a team for this event.
	if _, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Second Try", 3); !errors.Is(err, ErrAlreadyInAnotherTeam) {
		t.Errorf("expected ErrAlreadyInAnotherTeam, got %v", err)
	}
}

func TestCreateTeamValidation(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	solo := seedNormalEvent(env, 10)
	leader := seedParticipant(env, "leader@festra.test")
	ctx := context.Background()

	if _, err := svc.CreateTeam(ctx, event.ID, leader.ID, "", 3); !errors.Is(err, ErrTeamNameRequired) {
		t.Errorf("empty name: expected ErrTeamNameRequired, got %v", err)
	}
	if _, err := svc.CreateTeam(ctx, solo.ID, leader.ID, "Loners", 3); !errors.Is(err, ErrNotTeamEvent) {
		t.Errorf("solo event: expected ErrNotTeamEvent, got %v", err)
	}
	if _, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Tiny", 1); !errors.Is(err, ErrInvalidTeamSize) {
		t.Errorf("size below minimum: expected ErrInvalidTeamSize, got %v", err)
	}
	if _, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Horde", 5); !errors.Is(err, ErrInvalidTeamSize) {
		t.Errorf("size above maximum: expected ErrInvalidTeamSize, got %v", err)
	}

	env.db.events[event.ID].RegistrationDeadline = time.Now().Add(-time.Hour)
	if _, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Late", 3); !errors.Is(err, ErrDeadlinePassed) {
		t.Errorf("past deadline: expected ErrDeadlinePassed, got %v", err)
	}
}

func TestCreateTeamNameConflict(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	a := seedParticipant(env, "a@festra.test")
	b := seedParticipant(env, "b@festra.test")
	ctx := context.Background()

	if _, err := svc.CreateTeam(ctx, event.ID, a.ID, "Null Pointers", 2); err != nil {
		t.Fatalf("first team failed: %v", err)
	}
	if _, err := svc.CreateTeam(ctx, event.ID, b.ID, "Null Pointers", 2); !errors.Is(err, ErrTeamNameConflict) {
		t.Errorf("expected ErrTeamNameConflict, got %v", err)
	}
}

// Scenario: a team fills up, completion flips once and every member ends
// up with exactly one confirmed registration.
func TestTeamCompletionIssuesRegistrations(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	const teamSize = 3
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	m1 := seedParticipant(env, "m1@festra.test")
	m2 := seedParticipant(env, "m2@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", teamSize)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	if _, err := svc.JoinTeam(ctx, team.InviteCode, m1.ID); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if env.db.teams[team.ID].IsComplete {
		t.Fatal("team must not complete before the last slot fills")
	}

	full, err := svc.JoinTeam(ctx, team.InviteCode, m2.ID)
	if err != nil {
		t.Fatalf("final join failed: %v", err)
	}
	if !full.IsComplete {
		t.Fatal("expected team to complete on the final join")
	}

	for _, userID := range []int{leader.ID, m1.ID, m2.ID} {
		reg, err := env.registrations.FindActiveByParticipantAndEvent(ctx, userID, event.ID)
		if err != nil {
			t.Fatalf("user %d has no registration: %v", userID, err)
		}
		if reg.Status != models.RegistrationConfirmed {
			t.Errorf("user %d: expected confirmed, got %s", userID, reg.Status)
		}
		if reg.TicketID == "" || reg.QRCodeData == nil {
			t.Errorf("user %d: expected ticket and QR", userID)
		}
		if reg.TeamID == nil || *reg.TeamID != team.ID {
			t.Errorf("user %d: registration not linked to team", userID)
		}
	}
	if got := env.db.events[event.ID].RegistrationCount; got != teamSize {
		t.Errorf("expected registration count %d, got %d", teamSize, got)
	}
	if stored := env.db.teams[team.ID]; stored.RegistrationID == nil {
		t.Error("expected the leader registration to be linked on the team")
	}
}

func TestCompleteRegistrationBatchIdempotent(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	m1 := seedParticipant(env, "m1@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 2)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if _, err := svc.JoinTeam(ctx, team.InviteCode, m1.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Replay the completion trigger twice; no member gets a second
	// registration and the count does not move.
	for i := 0; i < 2; i++ {
		if err := svc.CompleteRegistrationBatch(ctx, team.ID); err != nil {
			t.Fatalf("retry %d failed: %v", i, err)
		}
	}
	live := 0
	for _, reg := range env.db.registrations {
		if reg.EventID == event.ID && reg.Status == models.RegistrationConfirmed {
			live++
		}
	}
	if live != 2 {
		t.Errorf("expected exactly 2 confirmed registrations, got %d", live)
	}
	if got := env.db.events[event.ID].RegistrationCount; got != 2 {
		t.Errorf("expected registration count 2, got %d", got)
	}
}

func TestCreateTeamLargerThanEventCapacity(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	env.db.events[event.ID].RegistrationLimit = 2
	leader := seedParticipant(env, "leader@festra.test")
	ctx := context.Background()

	// A size-3 team can never register into a 2-slot event.
	if _, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 3); !errors.Is(err, ErrInvalidTeamSize) {
		t.Errorf("expected ErrInvalidTeamSize, got %v", err)
	}
}

func TestCompleteRegistrationBatchRequiresCompleteTeam(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 3)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if err := svc.CompleteRegistrationBatch(ctx, team.ID); !errors.Is(err, ErrTeamNotComplete) {
		t.Errorf("expected ErrTeamNotComplete, got %v", err)
	}
}

// Scenario: the event fills up between team creation and completion, the
// registration batch fails halfway, and a later retry finishes it once
// capacity frees again.
func TestTeamBatchResumesAfterCapacityFailure(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	const teamSize = 3
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	m1 := seedParticipant(env, "m1@festra.test")
	m2 := seedParticipant(env, "m2@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", teamSize)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	// Solo registrants squeeze the event down to one spare slot.
	env.db.events[event.ID].RegistrationLimit = teamSize
	env.db.events[event.ID].RegistrationCount = 1

	if _, err := svc.JoinTeam(ctx, team.InviteCode, m1.ID); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if _, err := svc.JoinTeam(ctx, team.InviteCode, m2.ID); !errors.Is(err, ErrEventFull) {
		t.Fatalf("completing join: expected ErrEventFull, got %v", err)
	}

	// The team completed but the batch stopped short of the last member.
	stored := env.db.teams[team.ID]
	if !stored.IsComplete {
		t.Fatal("expected the team to be complete")
	}
	if stored.RegistrationID != nil {
		t.Fatal("a half-issued batch must not be marked finished")
	}
	if got := confirmedRegistrations(env, event.ID); got != teamSize-1 {
		t.Fatalf("expected %d registrations before recovery, got %d", teamSize-1, got)
	}

	// Outsiders still bounce off the completed team.
	outsider := seedParticipant(env, "late@festra.test")
	if _, err := svc.JoinTeam(ctx, team.InviteCode, outsider.ID); !errors.Is(err, ErrTeamComplete) {
		t.Errorf("outsider join: expected ErrTeamComplete, got %v", err)
	}

	// The squeezing registrant cancels; the member retries the join and
	// the batch resumes where it stopped.
	env.db.events[event.ID].RegistrationCount--
	full, err := svc.JoinTeam(ctx, team.InviteCode, m2.ID)
	if err != nil {
		t.Fatalf("retried join failed: %v", err)
	}
	if full.RegistrationID == nil {
		t.Error("expected the leader registration to be linked after recovery")
	}
	if got := confirmedRegistrations(env, event.ID); got != teamSize {
		t.Errorf("expected %d registrations after recovery, got %d", teamSize, got)
	}
	for _, userID := range []int{leader.ID, m1.ID, m2.ID} {
		if _, err := env.registrations.FindActiveByParticipantAndEvent(ctx, userID, event.ID); err != nil {
			t.Errorf("user %d has no registration after recovery: %v", userID, err)
		}
	}

	// Replaying the recovery is harmless.
	if _, err := svc.JoinTeam(ctx, team.InviteCode, m2.ID); err != nil {
		t.Errorf("replayed retry failed: %v", err)
	}
	if got := confirmedRegistrations(env, event.ID); got != teamSize {
		t.Errorf("replay must not add registrations, got %d", got)
	}
}

func confirmedRegistrations(env *testEnv, eventID int) int {
	n := 0
	for _, reg := range env.db.registrations {
		if reg.EventID == eventID && reg.Status == models.RegistrationConfirmed {
			n++
		}
	}
	return n
}

func TestJoinTeamRules(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	m1 := seedParticipant(env, "m1@festra.test")
	m2 := seedParticipant(env, "m2@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 2)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	if _, err := svc.JoinTeam(ctx, "WRONGCOD", m1.ID); !errors.Is(err, ErrInvalidInviteCode) {
		t.Errorf("bad code: expected ErrInvalidInviteCode, got %v", err)
	}
	if _, err := svc.JoinTeam(ctx, team.InviteCode, leader.ID); !errors.Is(err, ErrIsLeader) {
		t.Errorf("leader self-join: expected ErrIsLeader, got %v", err)
	}

	if _, err := svc.JoinTeam(ctx, team.InviteCode, m1.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	// Size 2 means the team is now complete.
	if _, err := svc.JoinTeam(ctx, team.InviteCode, m2.ID); !errors.Is(err, ErrTeamComplete) {
		t.Errorf("join after completion: expected ErrTeamComplete, got %v", err)
	}
}

func TestJoinTeamAlreadyInAnotherTeam(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	a := seedParticipant(env, "a@festra.test")
	b := seedParticipant(env, "b@festra.test")
	joiner := seedParticipant(env, "j@festra.test")
	ctx := context.Background()

	first, err := svc.CreateTeam(ctx, event.ID, a.ID, "First", 3)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	second, err := svc.CreateTeam(ctx, event.ID, b.ID, "Second", 3)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	if _, err := svc.JoinTeam(ctx, first.InviteCode, joiner.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := svc.JoinTeam(ctx, first.InviteCode, joiner.ID); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("rejoin same team: expected ErrAlreadyMember, got %v", err)
	}
	if _, err := svc.JoinTeam(ctx, second.InviteCode, joiner.ID); !errors.Is(err, ErrAlreadyInAnotherTeam) {
		t.Errorf("join second team: expected ErrAlreadyInAnotherTeam, got %v", err)
	}
}

func TestJoinTeamLastSlotRace(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	const teamSize = 3
	const contenders = 10
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", teamSize)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	users := make([]*models.User, contenders)
	for i := range users {
		users[i] = seedParticipant(env, "racer"+string(rune('a'+i))+"@festra.test")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined, blocked := 0, 0
	for _, u := range users {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			_, err := svc.JoinTeam(ctx, team.InviteCode, userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, ErrTeamComplete):
				blocked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	// The leader holds one slot, so only teamSize-1 joins can win.
	if joined != teamSize-1 {
		t.Errorf("expected %d successful joins, got %d", teamSize-1, joined)
	}
	if blocked != contenders-(teamSize-1) {
		t.Errorf("expected %d ErrTeamComplete, got %d", contenders-(teamSize-1), blocked)
	}

	confirmed := 0
	for _, reg := range env.db.registrations {
		if reg.EventID == event.ID && reg.Status == models.RegistrationConfirmed {
			confirmed++
		}
	}
	if confirmed != teamSize {
		t.Errorf("expected exactly %d confirmed registrations, got %d", teamSize, confirmed)
	}
}

func TestLeaveTeam(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	m1 := seedParticipant(env, "m1@festra.test")
	m2 := seedParticipant(env, "m2@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 3)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if _, err := svc.JoinTeam(ctx, team.InviteCode, m1.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := svc.LeaveTeam(ctx, team.ID, leader.ID); !errors.Is(err, ErrLeaderCannotLeave) {
		t.Errorf("leader leave: expected ErrLeaderCannotLeave, got %v", err)
	}
	if err := svc.LeaveTeam(ctx, team.ID, m2.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-member leave: expected ErrNotFound, got %v", err)
	}
	if err := svc.LeaveTeam(ctx, team.ID, m1.ID); err != nil {
		t.Fatalf("LeaveTeam failed: %v", err)
	}

	// The freed slot can be refilled.
	if _, err := svc.JoinTeam(ctx, team.InviteCode, m2.ID); err != nil {
		t.Errorf("rejoining a freed slot failed: %v", err)
	}

	// Single member remains plus m2; fill to completion and leaving locks.
	if _, err := svc.JoinTeam(ctx, team.InviteCode, m1.ID); err != nil {
		t.Fatalf("final join failed: %v", err)
	}
	if err := svc.LeaveTeam(ctx, team.ID, m2.ID); !errors.Is(err, ErrTeamComplete) {
		t.Errorf("leave after completion: expected ErrTeamComplete, got %v", err)
	}
}

func TestDeleteTeam(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	m1 := seedParticipant(env, "m1@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 2)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}

	if err := svc.DeleteTeam(ctx, team.ID, m1.ID); !errors.Is(err, ErrLeaderActionOnly) {
		t.Errorf("non-leader delete: expected ErrLeaderActionOnly, got %v", err)
	}

	if _, err := svc.JoinTeam(ctx, team.InviteCode, m1.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := svc.DeleteTeam(ctx, team.ID, leader.ID); !errors.Is(err, ErrTeamComplete) {
		t.Errorf("delete after completion: expected ErrTeamComplete, got %v", err)
	}
}

func TestDeleteTeamBeforeCompletion(t *testing.T) {
	env := newTestEnv()
	svc := env.teamService()
	event := seedTeamEvent(env, 2, 4)
	leader := seedParticipant(env, "leader@festra.test")
	ctx := context.Background()

	team, err := svc.CreateTeam(ctx, event.ID, leader.ID, "Null Pointers", 3)
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if err := svc.DeleteTeam(ctx, team.ID, leader.ID); err != nil {
		t.Fatalf("DeleteTeam failed: %v", err)
	}
	if _, err := svc.GetTeam(ctx, team.ID); !errors.Is(err, ErrTeamNotFound) {
		t.Errorf("expected ErrTeamNotFound after delete, got %v", err)
	}
}
