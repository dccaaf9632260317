package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserFixture is a test user ready to insert into compliance.users
type UserFixture struct {
	ID           string
	Email        string
	Name         string
	PhoneNumber  *string
	Role         string
	Password     string
	PasswordHash string
}

// DeletionRequestFixture is a test deletion request
type DeletionRequestFixture struct {
	ID            string
	UserID        string
	Status        string
	RequestedAt   time.Time
	ScheduledDate time.Time
}

// FixtureFactory builds unique test fixtures. Sequence numbers keep
// emails and names distinct within one test run.
type FixtureFactory struct {
	mu  sync.Mutex
	seq int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

// User builds a patient user fixture
func (f *FixtureFactory) User(opts ...func(*UserFixture)) UserFixture {
	seq := f.nextSeq()
	password := "test-password-123"
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)

	u := UserFixture{
		ID:           uuid.New().String(),
		Email:        fmt.Sprintf("patient%d@example.com", seq),
		Name:         fmt.Sprintf("Test Patient %d", seq),
		Role:         "patient",
		Password:     password,
		PasswordHash: string(hash),
	}
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// WithEmail overrides the fixture email
func WithEmail(email string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.Email = email
	}
}

// WithRole overrides the fixture role
func WithRole(role string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.Role = role
	}
}

// DeletionRequest builds a pending deletion request for the given user,
// requested now with a 30 day grace window.
func (f *FixtureFactory) DeletionRequest(userID string, opts ...func(*DeletionRequestFixture)) DeletionRequestFixture {
	now := time.Now().UTC()
	r := DeletionRequestFixture{
		ID:            uuid.New().String(),
		UserID:        userID,
		Status:        "pending",
		RequestedAt:   now,
		ScheduledDate: now.Add(30 * 24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Due backdates the request so its grace window has already elapsed
func Due() func(*DeletionRequestFixture) {
	return func(r *DeletionRequestFixture) {
		r.RequestedAt = time.Now().UTC().Add(-31 * 24 * time.Hour)
		r.ScheduledDate = time.Now().UTC().Add(-24 * time.Hour)
	}
}
