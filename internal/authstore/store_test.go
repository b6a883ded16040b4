// Package authstore tests cover the credential store, limiter and
// session lifecycle against in-memory and file persisters.
package authstore

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khang26042012/NexoraX-AI/internal/auth"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	store    *Store
	clock    *fakeClock
	accounts *MemoryAccounts
	sessions *MemoryPersister[Session]
	limits   *MemoryPersister[RateLimitEntry]
}

func newTestStore(t *testing.T, users map[string]string) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:    newClock(),
		accounts: NewMemoryAccounts(users),
		sessions: NewMemoryPersister[Session](nil),
		limits:   NewMemoryPersister[RateLimitEntry](nil),
	}
	s, err := Open(Options{
		Accounts:   env.accounts,
		Sessions:   env.sessions,
		RateLimits: env.limits,
		Now:        env.clock.Now,
	})
	require.NoError(t, err)
	env.store = s
	return env
}

func TestRateLimitTiers(t *testing.T) {
	want := map[int]time.Duration{
		5: 60 * time.Second, 6: 60 * time.Second, 7: 60 * time.Second,
		8: 300 * time.Second, 9: 300 * time.Second, 10: 300 * time.Second,
		11: 1800 * time.Second, 15: 1800 * time.Second,
	}
	for n, lock := range want {
		env := newTestStore(t, nil)
		var f Failure
		for i := 0; i < n; i++ {
			f = env.store.RecordFailure("alice")
			env.clock.Advance(time.Second)
		}
		assert.Equal(t, n, f.Attempts)
		assert.Equal(t, lock, f.LockedFor, "attempts=%d", n)

		e, ok := env.store.RateLimit("alice")
		require.True(t, ok)
		last := e.LastAttempt.Time()
		assert.Equal(t, lock, e.LockedUntil.Time().Sub(last), "attempts=%d", n)
	}
}

func TestRateLimitBelowThresholdNotLocked(t *testing.T) {
	env := newTestStore(t, nil)
	for i := 1; i <= 4; i++ {
		f := env.store.RecordFailure("alice")
		assert.False(t, f.Locked())
		assert.Equal(t, 5-i, f.Remaining)
	}
	assert.False(t, env.store.CheckRateLimit("alice").Limited)
}

func TestRollingWindowResetsCounter(t *testing.T) {
	env := newTestStore(t, nil)
	for i := 0; i < 4; i++ {
		env.store.RecordFailure("alice")
	}
	env.clock.Advance(301 * time.Second)
	f := env.store.RecordFailure("alice")
	assert.Equal(t, 1, f.Attempts)
	assert.False(t, f.Locked())
}

func TestCheckRateLimitLockedThenExpires(t *testing.T) {
	env := newTestStore(t, nil)
	for i := 0; i < 5; i++ {
		env.store.RecordFailure("alice")
	}
	st := env.store.CheckRateLimit("alice")
	require.True(t, st.Limited)
	assert.Equal(t, 60, st.WaitSeconds())
	assert.Contains(t, st.Message, "60 seconds")

	env.clock.Advance(61 * time.Second)
	assert.False(t, env.store.CheckRateLimit("alice").Limited)
	_, ok := env.store.RateLimit("alice")
	assert.True(t, ok, "entry stays while inside the rolling window")

	env.clock.Advance(300 * time.Second)
	assert.False(t, env.store.CheckRateLimit("alice").Limited)
	_, ok = env.store.RateLimit("alice")
	assert.False(t, ok, "stale entry is removed by check")
}

func TestRateLimitPersistsEveryMutation(t *testing.T) {
	env := newTestStore(t, nil)
	env.store.RecordFailure("alice")
	env.store.RecordFailure("alice")
	assert.Equal(t, 2, env.limits.Saves())
	assert.True(t, env.store.ClearRateLimit("alice"))
	assert.Equal(t, 3, env.limits.Saves())
	assert.False(t, env.store.ClearRateLimit("alice"))
	assert.Equal(t, 3, env.limits.Saves())

	saved, err := env.limits.Load()
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestExpiryIsIdempotent(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	info, err := env.store.CreateSession("alice", false)
	require.NoError(t, err)
	require.Equal(t, 1, env.sessions.Saves())

	env.clock.Advance(DefaultSessionTTL)
	_, ok := env.store.ValidateSession(info.ID)
	assert.False(t, ok)
	_, ok = env.store.ValidateSession(info.ID)
	assert.False(t, ok)
	assert.Equal(t, 2, env.sessions.Saves(), "record deleted exactly once")
}

func TestRotationInvariant(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	info, err := env.store.CreateSession("alice", true)
	require.NoError(t, err)
	env.clock.Advance(10 * 24 * time.Hour)

	next, err := env.store.RotateSession(info.ID)
	require.NoError(t, err)
	assert.NotEqual(t, info.ID, next.ID)
	assert.True(t, next.Rotated)
	assert.True(t, next.RememberMe)

	_, ok := env.store.ValidateSession(info.ID)
	assert.False(t, ok)
	name, ok := env.store.ValidateSession(next.ID)
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	minExpiry := env.clock.Now().Add(DefaultRememberTTL * 3 / 4)
	assert.False(t, next.ExpiresAt.Before(minExpiry))

	_, err = env.store.RotateSession(info.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestCheckSessionRotatesUnderQuarterLifetime(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	info, err := env.store.CreateSession("alice", false)
	require.NoError(t, err)

	env.clock.Advance(5 * 24 * time.Hour)
	got, ok := env.store.CheckSession(info.ID)
	require.True(t, ok)
	assert.False(t, got.Rotated, "2 of 7 days left is above the threshold")
	assert.Equal(t, info.ID, got.ID)

	env.clock.Advance(7 * time.Hour)
	got, ok = env.store.CheckSession(info.ID)
	require.True(t, ok)
	assert.True(t, got.Rotated)
	assert.NotEqual(t, info.ID, got.ID)
	assert.Equal(t, env.clock.Now().Add(DefaultSessionTTL), got.ExpiresAt)

	_, ok = env.store.CheckSession(info.ID)
	assert.False(t, ok)
}

func TestCreateSessionTTL(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	short, err := env.store.CreateSession("alice", false)
	require.NoError(t, err)
	long, err := env.store.CreateSession("alice", true)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(7*24*time.Hour), short.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(30*24*time.Hour), long.ExpiresAt)
	assert.Equal(t, 2, env.store.ActiveSessions())
}

func TestDeleteSession(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	info, err := env.store.CreateSession("alice", false)
	require.NoError(t, err)
	assert.True(t, env.store.Logout(info.ID))
	assert.False(t, env.store.Logout(info.ID))
	assert.False(t, env.store.Logout(""))
}

func TestOrphanedSessionInvalid(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd", "bob": "Secr3tpw"})
	a, err := env.store.CreateSession("alice", false)
	require.NoError(t, err)
	_, err = env.store.CreateSession("bob", false)
	require.NoError(t, err)

	require.NoError(t, env.store.DeleteUser("bob"))
	r := env.store.Sweep()
	assert.Equal(t, 1, r.OrphanedSessions)

	require.NoError(t, env.store.DeleteUser("alice"))
	_, ok := env.store.ValidateSession(a.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, env.store.ActiveSessions())
}

func TestSweep(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	_, err := env.store.CreateSession("alice", false)
	require.NoError(t, err)
	keep, err := env.store.CreateSession("alice", true)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		env.store.RecordFailure("mallory")
	}
	env.store.RecordFailure("carol")

	r := env.store.Sweep()
	assert.True(t, r.Empty())

	env.clock.Advance(8 * 24 * time.Hour)
	sessSaves, limitSaves := env.sessions.Saves(), env.limits.Saves()
	r = env.store.Sweep()
	assert.Equal(t, 1, r.ExpiredSessions)
	assert.Equal(t, 2, r.StaleRateLimits)
	assert.Equal(t, sessSaves+1, env.sessions.Saves())
	assert.Equal(t, limitSaves+1, env.limits.Saves())

	_, ok := env.store.ValidateSession(keep.ID)
	assert.True(t, ok)
}

func TestSweepKeepsLockedEntries(t *testing.T) {
	env := newTestStore(t, nil)
	for i := 0; i < 11; i++ {
		env.store.RecordFailure("mallory")
	}
	env.clock.Advance(10 * time.Minute)
	assert.True(t, env.store.Sweep().Empty())
	env.clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, env.store.Sweep().StaleRateLimits)
}

func TestCreateUser(t *testing.T) {
	env := newTestStore(t, nil)
	require.NoError(t, env.store.CreateUser("alice", "Passw0rd"))
	assert.True(t, env.store.UserExists("alice"))
	assert.True(t, env.store.VerifyPassword("alice", "Passw0rd"))
	assert.False(t, env.store.VerifyPassword("alice", "passw0rd"))
	assert.False(t, env.store.VerifyPassword("nobody", "Passw0rd"))

	err := env.store.CreateUser("alice", "Other123")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, errors.Is(err, ErrUserExists))

	err = env.store.CreateUser("a|b", "Passw0rd")
	assert.Equal(t, KindValidation, KindOf(err))
	err = env.store.CreateUser("carol", "nodigits")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "digit")
}

func TestCreateUserAppendFailureLeavesMapUntouched(t *testing.T) {
	env := newTestStore(t, nil)
	env.accounts.AppendErr = errors.New("disk full")
	err := env.store.CreateUser("alice", "Passw0rd")
	assert.Equal(t, KindStorage, KindOf(err))
	assert.False(t, env.store.UserExists("alice"))
}

func TestDeleteUser(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	env.store.RecordFailure("alice")
	require.NoError(t, env.store.DeleteUser("alice"))
	assert.False(t, env.store.UserExists("alice"))
	_, ok := env.store.RateLimit("alice")
	assert.False(t, ok)

	stored, err := env.accounts.Load()
	require.NoError(t, err)
	assert.Empty(t, stored)

	assert.Equal(t, KindNotFound, KindOf(env.store.DeleteUser("alice")))
}

func TestHashedPasswords(t *testing.T) {
	clock := newClock()
	accounts := NewMemoryAccounts(map[string]string{"legacy": "Plain123"})
	p := auth.DefaultArgon2Params()
	p.Memory, p.Iterations = 8*1024, 1
	s, err := Open(Options{Accounts: accounts, HashPasswords: true, HashParams: p, Now: clock.Now})
	require.NoError(t, err)

	require.NoError(t, s.CreateUser("alice", "Passw0rd"))
	stored, err := accounts.Load()
	require.NoError(t, err)
	assert.True(t, auth.IsHash(stored["alice"]))
	assert.True(t, s.VerifyPassword("alice", "Passw0rd"))
	assert.True(t, s.VerifyPassword("legacy", "Plain123"))
}

func TestFilePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	opts := FileOptions(dir)
	opts.Now = clock.Now

	s, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, s.CreateUser("alice", "Passw0rd"))
	require.NoError(t, s.CreateUser("bob", "Secr3tpw"))
	var ids []string
	for i, u := range []string{"alice", "bob", "alice"} {
		info, err := s.CreateSession(u, i == 2)
		require.NoError(t, err)
		ids = append(ids, info.ID)
	}
	s.RecordFailure("carol")

	reopened, err := Open(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, reopened.Users())
	assert.Equal(t, s.sessions, reopened.sessions)
	assert.Equal(t, s.limits, reopened.limits)

	// Short sessions are dropped once their expiry has passed.
	clock.Advance(8 * 24 * time.Hour)
	later, err := Open(opts)
	require.NoError(t, err)
	assert.Len(t, later.sessions, 1)
	_, ok := later.sessions[ids[2]]
	assert.True(t, ok)

	b, err := os.ReadFile(filepath.Join(dir, AccountsFileName))
	require.NoError(t, err)
	assert.Equal(t, "alice|Passw0rd\nbob|Secr3tpw\n", string(b))
}

func TestLoadToleratesLegacyFiles(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	now := clock.Now().Unix()

	accounts := "alice|Passw0rd\n\nbroken-line\n|nouser\nbob|Secr3tpw\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, AccountsFileName), []byte(accounts), 0o600))

	sessions := `{"tok1": {"username": "alice", "expires_at": ` + formatFloat(now+3600) + `.75, "remember_me": false},
	"tok2": {"username": "bob", "expires_at": ` + formatFloat(now-10) + `, "remember_me": true}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, SessionsFileName), []byte(sessions), 0o600))

	limits := `{"carol": {"attempts": 3, "last_attempt": ` + formatFloat(now) + `.5, "locked_until": null}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, RateLimitsFileName), []byte(limits), 0o600))

	opts := FileOptions(dir)
	opts.Now = clock.Now
	s, err := Open(opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, s.Users())
	name, ok := s.ValidateSession("tok1")
	assert.True(t, ok)
	assert.Equal(t, "alice", name)
	_, ok = s.ValidateSession("tok2")
	assert.False(t, ok)
	e, ok := s.RateLimit("carol")
	require.True(t, ok)
	assert.Equal(t, 3, e.Attempts)
	assert.Equal(t, UnixTime(now), e.LastAttempt)
}

func TestLoadCorruptFileFailsSoft(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SessionsFileName), []byte("{not json"), 0o600))
	s, err := Open(FileOptions(dir))
	require.NoError(t, err)
	assert.Equal(t, 0, s.ActiveSessions())
}

func TestConcurrentSessions(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := env.store.CreateSession("alice", false)
			if err == nil {
				ids <- info.ID
			}
			env.store.RecordFailure("mallory")
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 50, env.store.ActiveSessions())
	e, _ := env.store.RateLimit("mallory")
	assert.Equal(t, 50, e.Attempts)
}

func TestConcurrentLoginHonorsLockout(t *testing.T) {
	env := newTestStore(t, map[string]string{"alice": "Passw0rd"})
	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		authFailed    int
		rateLimited   int
		unexpectedErr []error
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.store.Login(Credentials{Username: "alice", Password: "wrong123"})
			var e *Error
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.As(err, &e) && e.Kind == KindAuth:
				authFailed++
			case errors.As(err, &e) && e.Kind == KindRateLimit:
				rateLimited++
			default:
				unexpectedErr = append(unexpectedErr, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, unexpectedErr)
	limit := env.store.Policy().MaxAttempts
	assert.Equal(t, limit, authFailed)
	assert.Equal(t, 40-limit, rateLimited)
	e, ok := env.store.RateLimit("alice")
	require.True(t, ok)
	assert.Equal(t, limit, e.Attempts)
	assert.False(t, e.LockedUntil.IsZero())

	// The right password is refused while locked.
	_, err := env.store.Login(Credentials{Username: "alice", Password: "Passw0rd"})
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindRateLimit, se.Kind)
}

func TestCredentialsWithEdgeSpacesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	opts := FileOptions(dir)
	s, err := Open(opts)
	require.NoError(t, err)
	_, err = s.Signup(Credentials{Username: "alice", Password: "Passw0rd "})
	require.NoError(t, err)
	_, err = s.Signup(Credentials{Username: "bob", Password: "  sp4ce d"})
	require.NoError(t, err)

	reopened, err := Open(opts)
	require.NoError(t, err)
	assert.True(t, reopened.VerifyPassword("alice", "Passw0rd "))
	assert.False(t, reopened.VerifyPassword("alice", "Passw0rd"))
	assert.True(t, reopened.VerifyPassword("bob", "  sp4ce d"))

	_, err = reopened.Login(Credentials{Username: "alice", Password: "Passw0rd "})
	require.NoError(t, err)
}

func TestErrorMessage(t *testing.T) {
	err := storageError("could not save", errors.New("disk full"))
	assert.Equal(t, "could not save: disk full", err.Error())
	v := validationError(errors.New("username is required"))
	assert.Equal(t, "username is required", v.Error())
	assert.True(t, strings.HasPrefix(KindRateLimit.String(), "rate"))
}

func formatFloat(v int64) string {
	return strconv.FormatInt(v, 10)
}
