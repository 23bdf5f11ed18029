package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keydrop/server/credentials"
	"github.com/keydrop/server/google"
	"github.com/keydrop/server/models"
	"github.com/keydrop/server/repositories"
	"github.com/keydrop/server/services"
	"github.com/keydrop/server/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository is a mock implementation of repositories.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if user := args.Get(0); user != nil {
		return user.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if user := args.Get(0); user != nil {
		return user.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetByProviderAndProviderID(ctx context.Context, provider models.Provider, providerID string) (*models.User, error) {
	args := m.Called(ctx, provider, providerID)
	if user := args.Get(0); user != nil {
		return user.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockAssertionVerifier is a mock implementation of AssertionVerifier
type MockAssertionVerifier struct {
	mock.Mock
}

func (m *MockAssertionVerifier) VerifyAssertion(ctx context.Context, raw string) (*google.Assertion, error) {
	args := m.Called(ctx, raw)
	if a := args.Get(0); a != nil {
		return a.(*google.Assertion), args.Error(1)
	}
	return nil, args.Error(1)
}

// passthroughTxManager runs the function without a real database transaction
type passthroughTxManager struct{}

func (passthroughTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nil, errors.New("not supported")
}

func (passthroughTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, nil)
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T, users repositories.UserRepository, verifier AssertionVerifier) *Service {
	t.Helper()
	keys, err := token.NewKeyholder(testSecret)
	require.NoError(t, err)

	return NewService(
		users,
		passthroughTxManager{},
		credentials.NewBcryptHasher(bcrypt.MinCost),
		token.NewCodec(keys),
		verifier,
		Config{AccessTokenTTL: 2 * time.Hour, SignupTokenTTL: 20 * time.Minute},
		zap.NewNop(),
	)
}

func validSignup() SignupInput {
	return SignupInput{
		Email:           "dj@keydrop.io",
		Password:        "secret-pass-1",
		PasswordConfirm: "secret-pass-1",
		Nickname:        "spinmaster",
		BirthDate:       "1999-04-03",
		DJLevel:         "BEGINNER",
	}
}

func TestLocalSignup(t *testing.T) {
	ctx := context.Background()

	t.Run("password confirmation mismatch, no store mutation", func(t *testing.T) {
		users := new(MockUserRepository)
		svc := newTestService(t, users, nil)

		in := validSignup()
		in.Password = "secret1"
		in.PasswordConfirm = "secret2"

		_, err := svc.LocalSignup(ctx, in)
		assert.ErrorIs(t, err, services.ErrPasswordMismatch)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		users.AssertNotCalled(t, "ExistsByEmail", mock.Anything, mock.Anything)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, "dj@keydrop.io").Return(true, nil)
		svc := newTestService(t, users, nil)

		_, err := svc.LocalSignup(ctx, validSignup())
		assert.ErrorIs(t, err, services.ErrEmailTaken)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("success inserts once and returns a usable access token", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, "dj@keydrop.io").Return(false, nil)
		users.On("Create", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Provider == models.ProviderLocal && u.ProfileComplete() && u.PasswordHash != nil
		})).Return(nil)
		svc := newTestService(t, users, nil)

		res, err := svc.LocalSignup(ctx, validSignup())
		require.NoError(t, err)
		require.NotEmpty(t, res.AccessToken)
		assert.Empty(t, res.SignupToken)
		assert.False(t, res.IsNewUser)

		_, err = svc.ValidateAccess(ctx, res.AccessToken)
		assert.NoError(t, err)
		users.AssertNumberOfCalls(t, "Create", 1)
	})

	t.Run("insert race surfaces as conflict", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, "dj@keydrop.io").Return(false, nil)
		users.On("Create", mock.Anything, mock.Anything).Return(repositories.ErrDuplicate)
		svc := newTestService(t, users, nil)

		_, err := svc.LocalSignup(ctx, validSignup())
		assert.ErrorIs(t, err, services.ErrEmailTaken)
	})

	t.Run("short password is a validation error", func(t *testing.T) {
		users := new(MockUserRepository)
		svc := newTestService(t, users, nil)

		in := validSignup()
		in.Password = "short"
		in.PasswordConfirm = "short"

		_, err := svc.LocalSignup(ctx, in)
		assert.True(t, services.IsValidationError(err))
	})
}

func TestLocalLogin(t *testing.T) {
	ctx := context.Background()
	hasher := credentials.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("secret-pass-1")
	require.NoError(t, err)

	localUser := models.NewLocalUser("dj@keydrop.io", hash, "spinmaster", "1999-04-03", "BEGINNER")

	t.Run("success", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByEmail", mock.Anything, "dj@keydrop.io").Return(localUser, nil)
		svc := newTestService(t, users, nil)

		res, err := svc.LocalLogin(ctx, LoginInput{Email: "dj@keydrop.io", Password: "secret-pass-1"})
		require.NoError(t, err)

		id, err := svc.ValidateAccess(ctx, res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, localUser.ID, id)
	})

	t.Run("unknown email", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByEmail", mock.Anything, "nobody@keydrop.io").Return(nil, repositories.ErrNotFound)
		svc := newTestService(t, users, nil)

		_, err := svc.LocalLogin(ctx, LoginInput{Email: "nobody@keydrop.io", Password: "whatever"})
		assert.ErrorIs(t, err, services.ErrInvalidCredentials)
	})

	t.Run("wrong password", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByEmail", mock.Anything, "dj@keydrop.io").Return(localUser, nil)
		svc := newTestService(t, users, nil)

		_, err := svc.LocalLogin(ctx, LoginInput{Email: "dj@keydrop.io", Password: "wrong"})
		assert.ErrorIs(t, err, services.ErrInvalidCredentials)
	})

	t.Run("google account cannot log in locally", func(t *testing.T) {
		googleUser := models.NewGoogleUser("dj@gmail.com", "sub-1", "spin", "1999-04-03", "PRO")
		users := new(MockUserRepository)
		users.On("GetByEmail", mock.Anything, "dj@gmail.com").Return(googleUser, nil)
		svc := newTestService(t, users, nil)

		_, err := svc.LocalLogin(ctx, LoginInput{Email: "dj@gmail.com", Password: "anything"})
		assert.ErrorIs(t, err, services.ErrInvalidCredentials)
	})
}

func TestGoogleLogin(t *testing.T) {
	ctx := context.Background()
	assertion := &google.Assertion{
		ProviderID:    "google-sub-118273",
		Email:         "newcomer@gmail.com",
		EmailVerified: true,
	}

	t.Run("rejected assertion is unauthorized", func(t *testing.T) {
		users := new(MockUserRepository)
		verifier := new(MockAssertionVerifier)
		verifier.On("VerifyAssertion", mock.Anything, "bad-credential").
			Return(nil, google.ErrInvalidAssertion)
		svc := newTestService(t, users, verifier)

		_, err := svc.GoogleLogin(ctx, "bad-credential")
		assert.ErrorIs(t, err, services.ErrInvalidAssertion)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("known complete account gets access token", func(t *testing.T) {
		user := models.NewGoogleUser("newcomer@gmail.com", "google-sub-118273", "newbie", "2001-01-01", "BEGINNER")
		users := new(MockUserRepository)
		users.On("GetByProviderAndProviderID", mock.Anything, models.ProviderGoogle, "google-sub-118273").
			Return(user, nil)
		verifier := new(MockAssertionVerifier)
		verifier.On("VerifyAssertion", mock.Anything, "credential").Return(assertion, nil)
		svc := newTestService(t, users, verifier)

		res, err := svc.GoogleLogin(ctx, "credential")
		require.NoError(t, err)
		assert.NotEmpty(t, res.AccessToken)
		assert.Empty(t, res.SignupToken)
		assert.False(t, res.IsNewUser)
	})

	t.Run("known incomplete account gets signup-pending token", func(t *testing.T) {
		user := models.NewGoogleUser("newcomer@gmail.com", "google-sub-118273", "x", "y", "z")
		user.Nickname = nil
		user.BirthDate = nil
		user.DJLevel = nil

		users := new(MockUserRepository)
		users.On("GetByProviderAndProviderID", mock.Anything, models.ProviderGoogle, "google-sub-118273").
			Return(user, nil)
		verifier := new(MockAssertionVerifier)
		verifier.On("VerifyAssertion", mock.Anything, "credential").Return(assertion, nil)
		svc := newTestService(t, users, verifier)

		res, err := svc.GoogleLogin(ctx, "credential")
		require.NoError(t, err)
		assert.Empty(t, res.AccessToken)
		assert.NotEmpty(t, res.SignupToken)
		assert.True(t, res.IsNewUser)
	})

	t.Run("unknown identity never inserts, regardless of outcome", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByProviderAndProviderID", mock.Anything, models.ProviderGoogle, "google-sub-118273").
			Return(nil, repositories.ErrNotFound)
		users.On("GetByEmail", mock.Anything, "newcomer@gmail.com").
			Return(nil, repositories.ErrNotFound)
		verifier := new(MockAssertionVerifier)
		verifier.On("VerifyAssertion", mock.Anything, "credential").Return(assertion, nil)
		svc := newTestService(t, users, verifier)

		res, err := svc.GoogleLogin(ctx, "credential")
		require.NoError(t, err)
		assert.True(t, res.IsNewUser)
		assert.NotEmpty(t, res.SignupToken)
		assert.Equal(t, "newcomer@gmail.com", res.Email)

		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("email owned by another provider is a conflict", func(t *testing.T) {
		localOwner := models.NewLocalUser("newcomer@gmail.com", "hash", "n", "1990-01-01", "PRO")
		users := new(MockUserRepository)
		users.On("GetByProviderAndProviderID", mock.Anything, models.ProviderGoogle, "google-sub-118273").
			Return(nil, repositories.ErrNotFound)
		users.On("GetByEmail", mock.Anything, "newcomer@gmail.com").Return(localOwner, nil)
		verifier := new(MockAssertionVerifier)
		verifier.On("VerifyAssertion", mock.Anything, "credential").Return(assertion, nil)
		svc := newTestService(t, users, verifier)

		_, err := svc.GoogleLogin(ctx, "credential")
		assert.ErrorIs(t, err, services.ErrEmailTaken)
		assert.Equal(t, "LOCAL", services.GetErrorDetails(err)["provider"])
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestCompleteProfile(t *testing.T) {
	ctx := context.Background()
	profile := ProfileInput{Nickname: "newbie", BirthDate: "2001-01-01", DJLevel: "BEGINNER"}

	issueToken := func(t *testing.T, svc *Service, subject string, typ token.Type, extra token.Extra) string {
		t.Helper()
		raw, err := svc.codec.Issue(subject, typ, extra, time.Minute)
		require.NoError(t, err)
		return raw
	}

	t.Run("pre-signup token causes exactly one insert", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, "newcomer@gmail.com").Return(false, nil)
		users.On("Create", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Provider == models.ProviderGoogle &&
				u.ProviderID != nil && *u.ProviderID == "google-sub-118273" &&
				u.ProfileComplete()
		})).Return(nil)
		svc := newTestService(t, users, nil)

		raw := issueToken(t, svc, "newcomer@gmail.com", token.TypePreSignup,
			token.Extra{Email: "newcomer@gmail.com", ProviderID: "google-sub-118273"})

		res, err := svc.CompleteProfile(ctx, raw, profile)
		require.NoError(t, err)
		require.NotEmpty(t, res.AccessToken)

		users.AssertNumberOfCalls(t, "Create", 1)
		users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)

		_, err = svc.ValidateAccess(ctx, res.AccessToken)
		assert.NoError(t, err)
	})

	t.Run("pre-signup double-check catches completed rival signup", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, "newcomer@gmail.com").Return(true, nil)
		svc := newTestService(t, users, nil)

		raw := issueToken(t, svc, "newcomer@gmail.com", token.TypePreSignup,
			token.Extra{Email: "newcomer@gmail.com", ProviderID: "google-sub-118273"})

		_, err := svc.CompleteProfile(ctx, raw, profile)
		assert.ErrorIs(t, err, services.ErrEmailTaken)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("signup-pending token causes one update and zero inserts", func(t *testing.T) {
		user := models.NewGoogleUser("newcomer@gmail.com", "google-sub-118273", "x", "y", "z")
		user.Nickname = nil
		user.BirthDate = nil
		user.DJLevel = nil

		users := new(MockUserRepository)
		users.On("GetByID", mock.Anything, user.ID).Return(user, nil)
		users.On("Update", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.ID == user.ID && u.ProfileComplete()
		})).Return(nil)
		svc := newTestService(t, users, nil)

		raw := issueToken(t, svc, user.ID.String(), token.TypeSignupPending,
			token.Extra{Email: user.Email})

		res, err := svc.CompleteProfile(ctx, raw, profile)
		require.NoError(t, err)
		assert.NotEmpty(t, res.AccessToken)

		users.AssertNumberOfCalls(t, "Update", 1)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("access token is a type mismatch", func(t *testing.T) {
		users := new(MockUserRepository)
		svc := newTestService(t, users, nil)

		raw := issueToken(t, svc, uuid.New().String(), token.TypeAccess, token.Extra{})

		_, err := svc.CompleteProfile(ctx, raw, profile)
		assert.ErrorIs(t, err, services.ErrTokenTypeMismatch)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		users := new(MockUserRepository)
		svc := newTestService(t, users, nil)

		_, err := svc.CompleteProfile(ctx, "garbage", profile)
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("missing profile fields rejected before token parsing", func(t *testing.T) {
		users := new(MockUserRepository)
		svc := newTestService(t, users, nil)

		_, err := svc.CompleteProfile(ctx, "anything", ProfileInput{Nickname: "only"})
		assert.ErrorIs(t, err, services.ErrIncompleteProfile)
	})
}

// raceUserRepository is a minimal in-memory store with a real uniqueness
// gate, for exercising concurrent completions.
type raceUserRepository struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
	inserts int
}

func newRaceUserRepository() *raceUserRepository {
	return &raceUserRepository{byEmail: make(map[string]*models.User)}
}

func (r *raceUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[user.Email]; ok {
		return repositories.ErrDuplicate
	}
	r.byEmail[user.Email] = user
	r.inserts++
	return nil
}

func (r *raceUserRepository) GetByID(context.Context, uuid.UUID) (*models.User, error) {
	return nil, repositories.ErrNotFound
}

func (r *raceUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *raceUserRepository) GetByProviderAndProviderID(context.Context, models.Provider, string) (*models.User, error) {
	return nil, repositories.ErrNotFound
}

func (r *raceUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	// deliberately racy: both goroutines may see false, the Create gate decides
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byEmail[email]
	return ok, nil
}

func (r *raceUserRepository) Update(context.Context, *models.User) error {
	return nil
}

// Two pre-signup completions for the same email must end with exactly one
// access token and one conflict, and a single row.
func TestCompleteProfile_ConcurrentPreSignup(t *testing.T) {
	repo := newRaceUserRepository()
	svc := newTestService(t, repo, nil)

	profile := ProfileInput{Nickname: "newbie", BirthDate: "2001-01-01", DJLevel: "BEGINNER"}

	mint := func(providerID string) string {
		raw, err := svc.codec.Issue("newcomer@gmail.com", token.TypePreSignup,
			token.Extra{Email: "newcomer@gmail.com", ProviderID: providerID}, time.Minute)
		require.NoError(t, err)
		return raw
	}

	tokens := []string{mint("google-sub-a"), mint("google-sub-b")}
	results := make([]error, len(tokens))

	var wg sync.WaitGroup
	for i, raw := range tokens {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			_, err := svc.CompleteProfile(context.Background(), raw, profile)
			results[i] = err
		}(i, raw)
	}
	wg.Wait()

	succeeded := 0
	conflicted := 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, services.ErrEmailTaken):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Equal(t, 1, repo.inserts)
}

func TestValidateAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the subject user id", func(t *testing.T) {
		svc := newTestService(t, new(MockUserRepository), nil)
		id := uuid.New()

		raw, err := svc.codec.Issue(id.String(), token.TypeAccess, token.Extra{}, time.Minute)
		require.NoError(t, err)

		got, err := svc.ValidateAccess(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("rejects pre-signup and signup-pending tokens", func(t *testing.T) {
		svc := newTestService(t, new(MockUserRepository), nil)

		for _, typ := range []token.Type{token.TypePreSignup, token.TypeSignupPending} {
			raw, err := svc.codec.Issue(uuid.New().String(), typ, token.Extra{}, time.Minute)
			require.NoError(t, err)

			_, err = svc.ValidateAccess(ctx, raw)
			assert.ErrorIs(t, err, services.ErrTokenTypeMismatch, string(typ))
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		svc := newTestService(t, new(MockUserRepository), nil)
		_, err := svc.ValidateAccess(ctx, "garbage")
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("rejects non-uuid subject", func(t *testing.T) {
		svc := newTestService(t, new(MockUserRepository), nil)

		raw, err := svc.codec.Issue("not-a-uuid", token.TypeAccess, token.Extra{}, time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateAccess(ctx, raw)
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})
}

// Full journey: first Google login yields a pre-signup token and no row,
// completion creates the account and the access token works.
func TestGoogleSignupJourney(t *testing.T) {
	ctx := context.Background()
	repo := newRaceUserRepository()

	assertion := &google.Assertion{
		ProviderID:    "google-sub-118273",
		Email:         "newcomer@gmail.com",
		EmailVerified: true,
	}
	verifier := new(MockAssertionVerifier)
	verifier.On("VerifyAssertion", mock.Anything, "credential").Return(assertion, nil)

	svc := newTestService(t, repo, verifier)

	login, err := svc.GoogleLogin(ctx, "credential")
	require.NoError(t, err)
	assert.True(t, login.IsNewUser)
	require.NotEmpty(t, login.SignupToken)
	assert.Equal(t, 0, repo.inserts, "first login must not create a row")

	done, err := svc.CompleteProfile(ctx, login.SignupToken,
		ProfileInput{Nickname: "newbie", BirthDate: "2001-01-01", DJLevel: "BEGINNER"})
	require.NoError(t, err)
	require.NotEmpty(t, done.AccessToken)
	assert.Equal(t, 1, repo.inserts)

	id, err := svc.ValidateAccess(ctx, done.AccessToken)
	require.NoError(t, err)

	created, err := repo.GetByEmail(ctx, "newcomer@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)
	assert.True(t, created.ProfileComplete())
}
