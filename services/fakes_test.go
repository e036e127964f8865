package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"festra/models"
	"festra/realtime"
	"festra/repositories"
)

// memDB backs the in-memory repository fakes. All fakes share one lock so
// conditional updates keep the same atomicity the SQL statements have.
type memDB struct {
	mu sync.Mutex

	users         map[int]*models.User
	events        map[int]*models.Event
	variants      map[int]*models.Variant
	registrations map[int]*models.Registration
	reservations  map[int]*models.Reservation
	teams         map[int]*models.Team
	members       map[int][]*models.TeamMember
	notifications []*models.Notification

	nextID int
}

func newMemDB() *memDB {
	return &memDB{
		users:         make(map[int]*models.User),
		events:        make(map[int]*models.Event),
		variants:      make(map[int]*models.Variant),
		registrations: make(map[int]*models.Registration),
		reservations:  make(map[int]*models.Reservation),
		teams:         make(map[int]*models.Team),
		members:       make(map[int][]*models.TeamMember),
		nextID:        1000,
	}
}

// id allocates an identifier. Callers must hold mu.
func (d *memDB) id() int {
	d.nextID++
	return d.nextID
}

func (d *memDB) addUser(u *models.User) *models.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == 0 {
		u.ID = d.id()
	}
	d.users[u.ID] = u
	return u
}

func (d *memDB) addEvent(e *models.Event) *models.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.ID == 0 {
		e.ID = d.id()
	}
	d.events[e.ID] = e
	for i := range e.Variants {
		v := e.Variants[i]
		if v.ID == 0 {
			v.ID = d.id()
		}
		v.EventID = e.ID
		d.variants[v.ID] = &models.Variant{}
		*d.variants[v.ID] = v
	}
	return e
}

func copyRegistration(r *models.Registration) *models.Registration {
	c := *r
	return &c
}

func liveStatus(s models.RegistrationStatus) bool {
	return s != models.RegistrationCancelled && s != models.RegistrationRejected
}

// --- users ---

type fakeUserRepo struct{ db *memDB }

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if u.Email == user.Email {
			return repositories.ErrUserEmailConflict
		}
	}
	user.ID = f.db.id()
	user.CreatedAt = time.Now()
	c := *user
	f.db.users[user.ID] = &c
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (*models.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (f *fakeUserRepo) ListByIDs(ctx context.Context, ids []int) ([]*models.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := f.db.users[id]; ok {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) UpdateRole(ctx context.Context, id int, role models.UserRole) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.Role = role
	return nil
}

// --- events ---

type fakeEventRepo struct{ db *memDB }

func (f *fakeEventRepo) Create(ctx context.Context, event *models.Event) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	event.ID = f.db.id()
	event.CreatedAt = time.Now()
	c := *event
	c.Variants = nil
	f.db.events[event.ID] = &c
	return nil
}

func (f *fakeEventRepo) get(id int) (*models.Event, error) {
	e, ok := f.db.events[id]
	if !ok {
		return nil, repositories.ErrEventNotFound
	}
	c := *e
	return &c, nil
}

func (f *fakeEventRepo) GetByID(ctx context.Context, id int) (*models.Event, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.get(id)
}

func (f *fakeEventRepo) GetByIDWithVariants(ctx context.Context, id int) (*models.Event, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, err := f.get(id)
	if err != nil {
		return nil, err
	}
	e.Variants = nil
	for _, v := range f.db.variants {
		if v.EventID == id {
			e.Variants = append(e.Variants, *v)
		}
	}
	return e, nil
}

func (f *fakeEventRepo) List(ctx context.Context, filter repositories.ListEventsFilter) ([]models.Event, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Event
	for _, e := range f.db.events {
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && e.Type != *filter.Type {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeEventRepo) Update(ctx context.Context, event *models.Event) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.events[event.ID]; !ok {
		return repositories.ErrEventNotFound
	}
	c := *event
	c.Variants = nil
	f.db.events[event.ID] = &c
	return nil
}

func (f *fakeEventRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.EventStatus) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.events[id]
	if !ok {
		return repositories.ErrEventNotFound
	}
	e.Status = status
	return nil
}

func (f *fakeEventRepo) IncrementCountIfCapacity(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.events[id]
	if !ok {
		return repositories.ErrEventNotFound
	}
	if e.RegistrationCount >= e.RegistrationLimit {
		return repositories.ErrEventFull
	}
	e.RegistrationCount++
	return nil
}

func (f *fakeEventRepo) AdjustRegistrationCount(ctx context.Context, exec repositories.SQLExecutor, id int, delta int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.events[id]
	if !ok {
		return repositories.ErrEventNotFound
	}
	e.RegistrationCount += delta
	if e.RegistrationCount < 0 {
		e.RegistrationCount = 0
	}
	return nil
}

func (f *fakeEventRepo) LockForm(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e, ok := f.db.events[id]
	if !ok {
		return repositories.ErrEventNotFound
	}
	e.FormLocked = true
	return nil
}

func (f *fakeEventRepo) GetEventsForAutoStatusUpdate(ctx context.Context, now time.Time) ([]*models.Event, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Event
	for _, e := range f.db.events {
		switch {
		case e.Status == models.EventStatusPublished && !now.Before(e.StartDate),
			e.Status == models.EventStatusOngoing && !now.Before(e.EndDate):
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// --- variants and reservations ---

type fakeVariantRepo struct{ db *memDB }

func (f *fakeVariantRepo) CreateVariant(ctx context.Context, exec repositories.SQLExecutor, v *models.Variant) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	v.ID = f.db.id()
	v.Sold = 0
	v.InitialCapacity = v.Stock
	v.CreatedAt = time.Now()
	c := *v
	f.db.variants[v.ID] = &c
	return nil
}

func (f *fakeVariantRepo) GetVariant(ctx context.Context, id int) (*models.Variant, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	v, ok := f.db.variants[id]
	if !ok {
		return nil, repositories.ErrVariantNotFound
	}
	c := *v
	return &c, nil
}

func (f *fakeVariantRepo) Reserve(ctx context.Context, eventID, variantID, qty int) (*models.Reservation, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	v, ok := f.db.variants[variantID]
	if !ok || v.EventID != eventID {
		return nil, repositories.ErrInsufficientStock
	}
	if v.Stock < qty {
		return nil, repositories.ErrInsufficientStock
	}
	v.Stock -= qty
	res := &models.Reservation{
		ID:        f.db.id(),
		EventID:   eventID,
		VariantID: variantID,
		Quantity:  qty,
		Status:    models.ReservationHeld,
		CreatedAt: time.Now(),
	}
	f.db.reservations[res.ID] = res
	c := *res
	return &c, nil
}

func (f *fakeVariantRepo) AttachRegistration(ctx context.Context, reservationID, registrationID int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	res, ok := f.db.reservations[reservationID]
	if !ok {
		return repositories.ErrReservationNotFound
	}
	regID := registrationID
	res.RegistrationID = &regID
	return nil
}

func (f *fakeVariantRepo) Finalize(ctx context.Context, reservationID int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	res, ok := f.db.reservations[reservationID]
	if !ok {
		return repositories.ErrReservationNotFound
	}
	switch res.Status {
	case models.ReservationHeld:
		res.Status = models.ReservationFinalized
		f.db.variants[res.VariantID].Sold += res.Quantity
		return nil
	case models.ReservationFinalized:
		return repositories.ErrReservationFinalized
	default:
		return repositories.ErrReservationReleased
	}
}

func (f *fakeVariantRepo) Release(ctx context.Context, reservationID int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	res, ok := f.db.reservations[reservationID]
	if !ok {
		return repositories.ErrReservationNotFound
	}
	switch res.Status {
	case models.ReservationHeld:
		res.Status = models.ReservationReleased
		f.db.variants[res.VariantID].Stock += res.Quantity
		return nil
	case models.ReservationReleased:
		return nil
	default:
		return repositories.ErrReservationFinalized
	}
}

func (f *fakeVariantRepo) Refund(ctx context.Context, reservationID int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	res, ok := f.db.reservations[reservationID]
	if !ok {
		return repositories.ErrReservationNotFound
	}
	switch res.Status {
	case models.ReservationFinalized:
		res.Status = models.ReservationReleased
		v := f.db.variants[res.VariantID]
		v.Stock += res.Quantity
		v.Sold -= res.Quantity
		return nil
	case models.ReservationReleased:
		return nil
	default:
		return repositories.ErrReservationNotFound
	}
}

func (f *fakeVariantRepo) CreditImmediate(ctx context.Context, eventID, variantID, qty int) (*models.Reservation, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	v, ok := f.db.variants[variantID]
	if !ok || v.EventID != eventID || v.Stock < qty {
		return nil, repositories.ErrInsufficientStock
	}
	v.Stock -= qty
	v.Sold += qty
	now := time.Now()
	res := &models.Reservation{
		ID:         f.db.id(),
		EventID:    eventID,
		VariantID:  variantID,
		Quantity:   qty,
		Status:     models.ReservationFinalized,
		CreatedAt:  now,
		ResolvedAt: &now,
	}
	f.db.reservations[res.ID] = res
	c := *res
	return &c, nil
}

func (f *fakeVariantRepo) GetActiveReservationByRegistration(ctx context.Context, registrationID int) (*models.Reservation, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, res := range f.db.reservations {
		if res.RegistrationID != nil && *res.RegistrationID == registrationID &&
			(res.Status == models.ReservationHeld || res.Status == models.ReservationFinalized) {
			c := *res
			return &c, nil
		}
	}
	return nil, repositories.ErrReservationNotFound
}

// --- registrations ---

type fakeRegistrationRepo struct{ db *memDB }

func (f *fakeRegistrationRepo) insert(reg *models.Registration) error {
	for _, r := range f.db.registrations {
		if r.TicketID == reg.TicketID {
			return repositories.ErrTicketIDConflict
		}
		if reg.Type == models.EventTypeNormal &&
			r.ParticipantID == reg.ParticipantID && r.EventID == reg.EventID && liveStatus(r.Status) {
			return repositories.ErrRegistrationConflict
		}
	}
	reg.ID = f.db.id()
	reg.CreatedAt = time.Now()
	f.db.registrations[reg.ID] = copyRegistration(reg)
	return nil
}

func (f *fakeRegistrationRepo) Create(ctx context.Context, exec repositories.SQLExecutor, reg *models.Registration) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.insert(reg)
}

func (f *fakeRegistrationRepo) CreateWithinPurchaseLimit(ctx context.Context, reg *models.Registration, limit int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	sum := 0
	for _, r := range f.db.registrations {
		if r.ParticipantID == reg.ParticipantID && r.EventID == reg.EventID && liveStatus(r.Status) {
			sum += r.Quantity
		}
	}
	if sum+reg.Quantity > limit {
		return repositories.ErrPurchaseLimitExceeded
	}
	for _, r := range f.db.registrations {
		if r.TicketID == reg.TicketID {
			return repositories.ErrTicketIDConflict
		}
	}
	reg.ID = f.db.id()
	reg.CreatedAt = time.Now()
	f.db.registrations[reg.ID] = copyRegistration(reg)
	return nil
}

func (f *fakeRegistrationRepo) GetByID(ctx context.Context, id int) (*models.Registration, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.registrations[id]
	if !ok {
		return nil, repositories.ErrRegistrationNotFound
	}
	return copyRegistration(r), nil
}

func (f *fakeRegistrationRepo) GetByTicketID(ctx context.Context, ticketID string) (*models.Registration, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, r := range f.db.registrations {
		if r.TicketID == ticketID {
			return copyRegistration(r), nil
		}
	}
	return nil, repositories.ErrRegistrationNotFound
}

func (f *fakeRegistrationRepo) FindActiveByParticipantAndEvent(ctx context.Context, participantID, eventID int) (*models.Registration, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, r := range f.db.registrations {
		if r.ParticipantID == participantID && r.EventID == eventID && liveStatus(r.Status) {
			return copyRegistration(r), nil
		}
	}
	return nil, repositories.ErrRegistrationNotFound
}

func (f *fakeRegistrationRepo) SumActiveQuantity(ctx context.Context, participantID, eventID int) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	sum := 0
	for _, r := range f.db.registrations {
		if r.ParticipantID == participantID && r.EventID == eventID && liveStatus(r.Status) {
			sum += r.Quantity
		}
	}
	return sum, nil
}

func (f *fakeRegistrationRepo) ListByEvent(ctx context.Context, eventID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Registration
	for _, r := range f.db.registrations {
		if r.EventID != eventID {
			continue
		}
		if statusFilter != nil && r.Status != *statusFilter {
			continue
		}
		out = append(out, copyRegistration(r))
	}
	return out, nil
}

func (f *fakeRegistrationRepo) ListByParticipant(ctx context.Context, participantID int) ([]*models.Registration, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Registration
	for _, r := range f.db.registrations {
		if r.ParticipantID == participantID {
			out = append(out, copyRegistration(r))
		}
	}
	return out, nil
}

func (f *fakeRegistrationRepo) SetPaymentOutcome(ctx context.Context, id int, payment models.PaymentStatus, status models.RegistrationStatus, qrCodeData *string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.registrations[id]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	if r.PaymentStatus != models.PaymentPending || r.Status != models.RegistrationPending {
		return repositories.ErrRegistrationStateConflict
	}
	r.PaymentStatus = payment
	r.Status = status
	if qrCodeData != nil {
		r.QRCodeData = qrCodeData
	}
	return nil
}

func (f *fakeRegistrationRepo) SetCancelled(ctx context.Context, id int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.registrations[id]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	if r.Status != models.RegistrationConfirmed {
		return repositories.ErrRegistrationStateConflict
	}
	r.Status = models.RegistrationCancelled
	return nil
}

func (f *fakeRegistrationRepo) SetAttended(ctx context.Context, id int, at time.Time, overrideReason *string, overrideByID *int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.registrations[id]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	if r.Status != models.RegistrationConfirmed || r.Attended {
		return repositories.ErrRegistrationStateConflict
	}
	r.Status = models.RegistrationAttended
	r.Attended = true
	attAt := at
	r.AttendedAt = &attAt
	r.OverrideReason = overrideReason
	r.OverrideByID = overrideByID
	if overrideReason != nil {
		r.OverrideAt = &attAt
	}
	return nil
}

func (f *fakeRegistrationRepo) UpdateProofKey(ctx context.Context, id int, proofKey string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.registrations[id]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	if r.Status != models.RegistrationPending {
		return repositories.ErrRegistrationStateConflict
	}
	key := proofKey
	r.PaymentProofKey = &key
	return nil
}

// --- teams ---

type fakeTeamRepo struct{ db *memDB }

func (f *fakeTeamRepo) Create(ctx context.Context, team *models.Team) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, t := range f.db.teams {
		if t.InviteCode == team.InviteCode {
			return repositories.ErrTeamInviteCodeConflict
		}
		if t.EventID == team.EventID && t.Name == team.Name {
			return repositories.ErrTeamNameConflict
		}
	}
	team.ID = f.db.id()
	team.CreatedAt = time.Now()
	c := *team
	f.db.teams[team.ID] = &c
	return nil
}

func (f *fakeTeamRepo) get(id int) (*models.Team, error) {
	t, ok := f.db.teams[id]
	if !ok {
		return nil, repositories.ErrTeamNotFound
	}
	c := *t
	return &c, nil
}

func (f *fakeTeamRepo) GetByID(ctx context.Context, id int) (*models.Team, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.get(id)
}

func (f *fakeTeamRepo) GetByInviteCode(ctx context.Context, code string) (*models.Team, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, t := range f.db.teams {
		if t.InviteCode == code {
			c := *t
			return &c, nil
		}
	}
	return nil, repositories.ErrTeamNotFound
}

func (f *fakeTeamRepo) FindByUserAndEvent(ctx context.Context, userID, eventID int) (*models.Team, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, t := range f.db.teams {
		if t.EventID != eventID {
			continue
		}
		if t.LeaderID == userID {
			c := *t
			return &c, nil
		}
		for _, m := range f.db.members[t.ID] {
			if m.UserID == userID && m.Status != models.MemberDeclined {
				c := *t
				return &c, nil
			}
		}
	}
	return nil, repositories.ErrTeamNotFound
}

func (f *fakeTeamRepo) ListMembers(ctx context.Context, teamID int) ([]models.TeamMember, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make([]models.TeamMember, 0, len(f.db.members[teamID]))
	for _, m := range f.db.members[teamID] {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeTeamRepo) ListByEvent(ctx context.Context, eventID int) ([]*models.Team, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Team
	for _, t := range f.db.teams {
		if t.EventID == eventID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeTeamRepo) AddMemberIfCapacity(ctx context.Context, teamID, userID int) (*models.TeamMember, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	t, ok := f.db.teams[teamID]
	if !ok {
		return nil, repositories.ErrTeamNotFound
	}
	if t.IsComplete {
		return nil, repositories.ErrTeamComplete
	}
	accepted := 0
	for _, m := range f.db.members[teamID] {
		if m.UserID == userID && m.Status != models.MemberDeclined {
			return nil, repositories.ErrTeamMemberConflict
		}
		if m.Status == models.MemberAccepted {
			accepted++
		}
	}
	// The leader fills one slot without a member row.
	if accepted+1 >= t.TeamSize {
		return nil, repositories.ErrTeamComplete
	}
	now := time.Now()
	member := &models.TeamMember{
		ID:          f.db.id(),
		TeamID:      teamID,
		UserID:      userID,
		Status:      models.MemberAccepted,
		InvitedAt:   now,
		RespondedAt: &now,
	}
	f.db.members[teamID] = append(f.db.members[teamID], member)
	c := *member
	return &c, nil
}

func (f *fakeTeamRepo) CompleteIfFull(ctx context.Context, teamID int) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	t, ok := f.db.teams[teamID]
	if !ok {
		return false, repositories.ErrTeamNotFound
	}
	if t.IsComplete {
		return false, nil
	}
	accepted := 0
	for _, m := range f.db.members[teamID] {
		if m.Status == models.MemberAccepted {
			accepted++
		}
	}
	if accepted+1 >= t.TeamSize {
		t.IsComplete = true
		return true, nil
	}
	return false, nil
}

func (f *fakeTeamRepo) SetRegistrationID(ctx context.Context, teamID, registrationID int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	t, ok := f.db.teams[teamID]
	if !ok {
		return repositories.ErrTeamNotFound
	}
	id := registrationID
	t.RegistrationID = &id
	return nil
}

func (f *fakeTeamRepo) RemoveMember(ctx context.Context, teamID, userID int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	members := f.db.members[teamID]
	for i, m := range members {
		if m.UserID == userID {
			f.db.members[teamID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return repositories.ErrTeamMemberNotFound
}

func (f *fakeTeamRepo) Delete(ctx context.Context, teamID int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.teams[teamID]; !ok {
		return repositories.ErrTeamNotFound
	}
	delete(f.db.teams, teamID)
	delete(f.db.members, teamID)
	return nil
}

// --- notifications ---

type fakeNotificationRepo struct{ db *memDB }

func (f *fakeNotificationRepo) Enqueue(ctx context.Context, exec repositories.SQLExecutor, n *models.Notification) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n.ID = f.db.id()
	n.Status = models.NotificationPending
	n.CreatedAt = time.Now()
	c := *n
	f.db.notifications = append(f.db.notifications, &c)
	return nil
}

func (f *fakeNotificationRepo) ClaimPending(ctx context.Context, limit int) ([]*models.Notification, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*models.Notification
	for _, n := range f.db.notifications {
		if len(out) >= limit {
			break
		}
		if n.Status == models.NotificationPending && n.Attempts < 5 {
			n.Attempts++
			c := *n
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) MarkSent(ctx context.Context, id int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, n := range f.db.notifications {
		if n.ID == id {
			now := time.Now()
			n.Status = models.NotificationSent
			n.SentAt = &now
			return nil
		}
	}
	return repositories.ErrNotificationNotFound
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id int, deliveryErr string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, n := range f.db.notifications {
		if n.ID == id {
			n.Status = models.NotificationPending
			msg := deliveryErr
			n.LastError = &msg
			return nil
		}
	}
	return repositories.ErrNotificationNotFound
}

// --- assembly helpers ---

type testEnv struct {
	db            *memDB
	users         *fakeUserRepo
	events        *fakeEventRepo
	variants      *fakeVariantRepo
	registrations *fakeRegistrationRepo
	teams         *fakeTeamRepo
	notifications *fakeNotificationRepo
	hub           *realtime.Hub
	notifier      Notifier
}

func newTestEnv() *testEnv {
	db := newMemDB()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifications := &fakeNotificationRepo{db: db}
	return &testEnv{
		db:            db,
		users:         &fakeUserRepo{db: db},
		events:        &fakeEventRepo{db: db},
		variants:      &fakeVariantRepo{db: db},
		registrations: &fakeRegistrationRepo{db: db},
		teams:         &fakeTeamRepo{db: db},
		notifications: notifications,
		hub:           realtime.NewHub(logger),
		notifier:      NewOutboxNotifier(notifications, logger),
	}
}

func (e *testEnv) registrationService() RegistrationService {
	return NewRegistrationService(e.registrations, e.events, e.variants, e.users, NewTicketService(), e.notifier, e.hub)
}

func (e *testEnv) teamService() TeamService {
	return NewTeamService(e.teams, e.events, e.users, e.registrations, e.registrationService(), e.notifier, e.hub)
}
