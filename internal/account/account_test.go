package account

import (
	"context"
	"testing"
	"time"

	"example.com/socialfeed/internal/apperr"
	"example.com/socialfeed/internal/auth"
	"example.com/socialfeed/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newService(st store.UserStore) (*Service, *auth.TokenService) {
	tokens := auth.NewTokenService("test-secret", time.Hour)
	return NewService(st, auth.NewHasher(bcrypt.MinCost), tokens), tokens
}

func TestSignupThenLogin(t *testing.T) {
	st := store.NewMock()
	svc, tokens := newService(st)
	ctx := context.Background()

	id, err := svc.Signup(ctx, SignupInput{Email: "A@x.com ", Name: " A ", Password: "secret123"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := st.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", stored.Email)
	assert.Equal(t, "A", stored.Name)
	assert.NotEqual(t, "secret123", stored.Password)
	assert.Equal(t, "I am new!", stored.Status)

	res, err := svc.Login(ctx, "a@x.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, id, res.UserID)

	claims, err := tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
}

func TestSignup_Validation(t *testing.T) {
	svc, _ := newService(store.NewMock())

	_, err := svc.Signup(context.Background(), SignupInput{Email: "not-an-email", Name: "", Password: "abc"})

	require.True(t, apperr.Is(err, apperr.KindValidation))
	fields := map[string]bool{}
	for _, f := range apperr.From(err).Fields {
		fields[f.Field] = true
	}
	assert.Equal(t, map[string]bool{"email": true, "name": true, "password": true}, fields)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	svc, _ := newService(store.NewMock())
	ctx := context.Background()
	in := SignupInput{Email: "a@x.com", Name: "A", Password: "secret123"}

	_, err := svc.Signup(ctx, in)
	require.NoError(t, err)

	_, err = svc.Signup(ctx, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "email", apperr.From(err).Fields[0].Field)
}

func TestSignup_StoreFailure(t *testing.T) {
	svc, _ := newService(&store.MockStoreFail{})

	_, err := svc.Signup(context.Background(), SignupInput{Email: "a@x.com", Name: "A", Password: "secret123"})
	assert.True(t, apperr.Is(err, apperr.KindServer))
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newService(store.NewMock())
	ctx := context.Background()
	_, err := svc.Signup(ctx, SignupInput{Email: "a@x.com", Name: "A", Password: "secret123"})
	require.NoError(t, err)

	res1, wrongPassword := svc.Login(ctx, "a@x.com", "nope-nope")
	res2, unknownEmail := svc.Login(ctx, "b@x.com", "secret123")

	require.True(t, apperr.Is(wrongPassword, apperr.KindUnauthenticated))
	require.True(t, apperr.Is(unknownEmail, apperr.KindUnauthenticated))
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	assert.Empty(t, res1.Token)
	assert.Empty(t, res2.Token)
}

func TestLogin_StoreFailure(t *testing.T) {
	svc, _ := newService(&store.MockStoreFail{})

	_, err := svc.Login(context.Background(), "a@x.com", "secret123")
	assert.True(t, apperr.Is(err, apperr.KindServer))
}

func TestStatus(t *testing.T) {
	st := store.NewMock()
	svc, _ := newService(st)
	ctx := context.Background()
	id, err := svc.Signup(ctx, SignupInput{Email: "a@x.com", Name: "A", Password: "secret123"})
	require.NoError(t, err)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "I am new!", status)

	user, err := svc.UpdateStatus(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "", user.Status)

	user, err = svc.UpdateStatus(ctx, id, "Busy writing")
	require.NoError(t, err)
	assert.Equal(t, "Busy writing", user.Status)

	status, err = svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Busy writing", status)
}

func TestStatus_UnknownUser(t *testing.T) {
	svc, _ := newService(store.NewMock())
	ctx := context.Background()

	_, err := svc.Status(ctx, "ghost")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.UpdateStatus(ctx, "ghost", "hi")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateStatus_StoreFailure(t *testing.T) {
	st := store.NewMock()
	svc, _ := newService(st)
	ctx := context.Background()
	id, err := svc.Signup(ctx, SignupInput{Email: "a@x.com", Name: "A", Password: "secret123"})
	require.NoError(t, err)

	st.FailOps["UpdateUserStatus"] = true
	_, err = svc.UpdateStatus(ctx, id, "hi")
	assert.True(t, apperr.Is(err, apperr.KindServer))
}
