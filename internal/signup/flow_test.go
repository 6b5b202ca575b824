package signup

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/repository"
	"marketplace/internal/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlow(provider *providerStub, profiles *profileStoreStub) *Flow {
	return NewFlow(NewDraft(""), provider, profiles, testutil.DiscardLogger())
}

// fillValid sets every field to a valid value and passes all checks.
func fillValid(t *testing.T, f *Flow) {
	t.Helper()
	ctx := context.Background()
	f.SetField(FieldID, "tester1")
	f.SetField(FieldNickname, "tester")
	f.SetField(FieldEmail, "t@example.com")
	f.SetField(FieldPassword, "Abcdef1!")
	f.SetField(FieldConfirm, "Abcdef1!")
	require.True(t, f.CheckDuplicate(ctx, FieldID))
	require.True(t, f.CheckDuplicate(ctx, FieldNickname))
	require.True(t, f.CheckDuplicate(ctx, FieldEmail))
}

func TestSetField_EditDropsCheck(t *testing.T) {
	t.Parallel()
	f := newTestFlow(&providerStub{}, &profileStoreStub{})
	ctx := context.Background()

	f.SetField(FieldID, "abcd12")
	require.True(t, f.CheckDuplicate(ctx, FieldID))
	assert.True(t, f.Draft().Checked(FieldID))
	assert.Equal(t, "This id is available.", f.Draft().Checks[FieldID].Message)

	f.SetField(FieldID, "abcd12")
	assert.True(t, f.Draft().Checked(FieldID), "same value keeps the check")

	f.SetField(FieldID, "abcd123")
	assert.False(t, f.Draft().Checked(FieldID))
	assert.Empty(t, f.Draft().Checks[FieldID].Message)
}

func TestSetField_RevalidatesOnlyVisibleErrors(t *testing.T) {
	t.Parallel()
	f := newTestFlow(&providerStub{}, &profileStoreStub{})

	f.SetField(FieldNickname, "a")
	assert.Empty(t, f.Draft().Errors[FieldNickname], "untouched field is not validated")

	assert.False(t, f.Validate(FieldNickname))
	assert.NotEmpty(t, f.Draft().Errors[FieldNickname])

	f.SetField(FieldNickname, "ab")
	assert.Empty(t, f.Draft().Errors[FieldNickname], "error clears once the value is fixed")
}

func TestSetField_PasswordRevalidatesConfirm(t *testing.T) {
	t.Parallel()
	f := newTestFlow(&providerStub{}, &profileStoreStub{})

	f.SetField(FieldPassword, "Abcdef1!")
	f.SetField(FieldConfirm, "Abcdef1!")
	assert.Empty(t, f.Draft().Errors[FieldConfirm])

	f.SetField(FieldPassword, "Abcdef2!")
	assert.Equal(t, "The passwords do not match.", f.Draft().Errors[FieldConfirm])

	f.SetField(FieldConfirm, "Abcdef2!")
	assert.Empty(t, f.Draft().Errors[FieldConfirm])
}

func TestCheckDuplicate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		field      Field
		value      string
		findFn     func(context.Context, repository.ProfileField, string) (*models.Profile, error)
		wantOK     bool
		wantLookup bool
		wantErr    string
	}{
		{
			name: "available", field: FieldNickname, value: "tester",
			wantOK: true, wantLookup: true,
		},
		{
			name: "taken", field: FieldID, value: "tester1",
			findFn: func(context.Context, repository.ProfileField, string) (*models.Profile, error) {
				return &models.Profile{UID: "other"}, nil
			},
			wantLookup: true, wantErr: "That id is already in use.",
		},
		{
			name: "store failure", field: FieldEmail, value: "t@example.com",
			findFn: func(context.Context, repository.ProfileField, string) (*models.Profile, error) {
				return nil, errors.New("connection reset")
			},
			wantLookup: true, wantErr: msgCheckFailed,
		},
		{
			name: "invalid format skips lookup", field: FieldID, value: "12ab",
			wantErr: "The id must contain at least 4 letters.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			profiles := &profileStoreStub{findByFieldFn: tt.findFn}
			f := newTestFlow(&providerStub{}, profiles)
			f.SetField(tt.field, tt.value)

			ok := f.CheckDuplicate(context.Background(), tt.field)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOK, f.Draft().Checked(tt.field))
			assert.Equal(t, tt.wantLookup, len(profiles.lookups) == 1)
			assert.Equal(t, tt.wantErr, f.Draft().Errors[tt.field])
		})
	}
}

func TestCheckDuplicate_EmailMatchesSignInAddress(t *testing.T) {
	t.Parallel()
	profiles := &profileStoreStub{}
	f := newTestFlow(&providerStub{}, profiles)
	f.SetField(FieldEmail, "t@example.com")

	require.True(t, f.CheckDuplicate(context.Background(), FieldEmail))
	assert.Equal(t, []repository.ProfileField{repository.ProfileAuthEmail}, profiles.lookups)
}

func TestSendVerification_PreconditionsHaveNoSideEffects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name      string
		prepare   func(f *Flow)
		wantFocus Field
	}{
		{
			name:      "id unchecked",
			prepare:   func(f *Flow) { f.SetField(FieldID, "tester2") },
			wantFocus: FieldID,
		},
		{
			name:      "nickname unchecked",
			prepare:   func(f *Flow) { f.SetField(FieldNickname, "tester2") },
			wantFocus: FieldNickname,
		},
		{
			name:      "weak password",
			prepare:   func(f *Flow) { f.SetField(FieldPassword, "abcdef1") },
			wantFocus: FieldPassword,
		},
		{
			name:      "confirm mismatch",
			prepare:   func(f *Flow) { f.SetField(FieldConfirm, "Abcdef1?") },
			wantFocus: FieldConfirm,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := &providerStub{}
			f := newTestFlow(provider, &profileStoreStub{})
			fillValid(t, f)
			tt.prepare(f)

			assert.False(t, f.SendVerification(ctx))
			assert.Equal(t, tt.wantFocus, f.Draft().Focus)
			assert.Equal(t, 0, provider.createCalls)
			assert.Equal(t, 0, provider.sendCalls)
			assert.Equal(t, PhaseEditing, f.Draft().Phase)
		})
	}
}

func TestSendVerification_AccountCreationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantMsg   string
		wantFocus Field
	}{
		{
			name:      "already in use",
			err:       &auth.Error{Category: auth.CategoryAlreadyInUse, Err: errors.New("EMAIL_EXISTS")},
			wantMsg:   "This email is already registered.",
			wantFocus: FieldEmail,
		},
		{
			name:    "rate limited",
			err:     &auth.Error{Category: auth.CategoryRateLimited, Err: errors.New("TOO_MANY_ATTEMPTS")},
			wantMsg: "Too many requests. Please try again later.",
		},
		{
			name:    "unknown",
			err:     errors.New("boom"),
			wantMsg: "Failed to send verification email: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := &providerStub{
				createAccountFn: func(context.Context, string, string) (*auth.Session, error) {
					return nil, tt.err
				},
			}
			f := newTestFlow(provider, &profileStoreStub{})
			fillValid(t, f)

			assert.False(t, f.SendVerification(context.Background()))
			assert.Equal(t, tt.wantMsg, f.Draft().Message)
			assert.Equal(t, tt.wantFocus, f.Draft().Focus)
			assert.Equal(t, PhaseEditing, f.Draft().Phase)
			assert.Nil(t, f.Draft().Session)
			assert.Equal(t, 0, provider.sendCalls)
		})
	}
}

func TestSendVerification_ResendAfterDispatchFailure(t *testing.T) {
	t.Parallel()
	attempts := 0
	provider := &providerStub{
		sendVerifyFn: func(context.Context, auth.Identity) error {
			attempts++
			if attempts == 1 {
				return errors.New("smtp down")
			}
			return nil
		},
	}
	f := newTestFlow(provider, &profileStoreStub{})
	fillValid(t, f)
	ctx := context.Background()

	assert.False(t, f.SendVerification(ctx))
	assert.Equal(t, PhaseVerificationPending, f.Draft().Phase, "the account exists")
	assert.Equal(t, "Failed to send verification email: smtp down", f.Draft().Message)

	assert.True(t, f.SendVerification(ctx))
	assert.Equal(t, 1, provider.createCalls, "resend does not create a second account")
	assert.Equal(t, 2, provider.sendCalls)
}

func TestSetField_EmailLockedOnceAccountExists(t *testing.T) {
	t.Parallel()
	f := newTestFlow(&providerStub{}, &profileStoreStub{})
	fillValid(t, f)
	require.True(t, f.SendVerification(context.Background()))

	assert.False(t, f.SetField(FieldEmail, "other@example.com"))
	assert.Equal(t, "t@example.com", f.Draft().Email)
	assert.Equal(t, msgEmailLocked, f.Draft().Errors[FieldEmail])
	assert.True(t, f.Draft().Checked(FieldEmail))
}

func TestSendVerification_ClearsPasswordAndLocksIt(t *testing.T) {
	t.Parallel()
	var created string
	provider := &providerStub{
		createAccountFn: func(_ context.Context, email, password string) (*auth.Session, error) {
			created = password
			return &auth.Session{Token: "tok", Identity: auth.Identity{UID: "uid-1", Email: email}}, nil
		},
	}
	f := newTestFlow(provider, &profileStoreStub{})
	fillValid(t, f)
	ctx := context.Background()
	require.True(t, f.SendVerification(ctx))

	d := f.Draft()
	assert.Equal(t, "Abcdef1!", created)
	assert.Empty(t, d.Password)
	assert.Empty(t, d.Confirm)

	assert.False(t, f.SetField(FieldPassword, "Other1!x"))
	assert.Equal(t, msgPasswordLocked, d.Errors[FieldPassword])
	assert.Empty(t, d.Password)
	assert.False(t, f.SetField(FieldConfirm, "Other1!x"))
	assert.Empty(t, d.Confirm)
	assert.True(t, f.Validate(FieldPassword))

	// Resending after the password was dropped still works.
	assert.True(t, f.SendVerification(ctx))
	assert.Equal(t, 1, provider.createCalls)

	require.True(t, f.CheckVerification(ctx))
	require.True(t, f.FinalSignup(ctx))
	assert.Empty(t, f.Draft().Password)
}

func TestCheckVerification(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	verified := false
	provider := &providerStub{
		checkVerifiedFn: func(context.Context, auth.Identity) (bool, error) { return verified, nil },
	}
	f := newTestFlow(provider, &profileStoreStub{})

	assert.False(t, f.CheckVerification(ctx))
	assert.Equal(t, msgNoAccount, f.Draft().Message)

	fillValid(t, f)
	require.True(t, f.SendVerification(ctx))

	assert.False(t, f.CheckVerification(ctx))
	assert.Equal(t, "Email is not verified yet. Click the link in the mail and try again.", f.Draft().Message)
	assert.Equal(t, PhaseVerificationPending, f.Draft().Phase)

	verified = true
	assert.True(t, f.CheckVerification(ctx))
	assert.Equal(t, PhaseVerified, f.Draft().Phase)
	assert.True(t, f.Draft().Session.Identity.EmailVerified)
}

func TestFinalSignup_RequiresVerification(t *testing.T) {
	t.Parallel()
	profiles := &profileStoreStub{}
	f := newTestFlow(&providerStub{}, profiles)
	fillValid(t, f)
	require.True(t, f.SendVerification(context.Background()))

	assert.False(t, f.FinalSignup(context.Background()))
	assert.Equal(t, msgVerifyFirst, f.Draft().Message)
	assert.Equal(t, 0, profiles.upsertCalls)
}

func TestFinalSignup_RequiresRecheckAfterEdit(t *testing.T) {
	t.Parallel()
	profiles := &profileStoreStub{}
	f := newTestFlow(&providerStub{}, profiles)
	ctx := context.Background()
	fillValid(t, f)
	require.True(t, f.SendVerification(ctx))
	require.True(t, f.CheckVerification(ctx))

	f.SetField(FieldNickname, "renamed")
	assert.False(t, f.FinalSignup(ctx))
	assert.Equal(t, FieldNickname, f.Draft().Focus)
	assert.Equal(t, 0, profiles.upsertCalls)

	require.True(t, f.CheckDuplicate(ctx, FieldNickname))
	assert.True(t, f.FinalSignup(ctx))
}

func TestSignup_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var (
		savedUID    string
		savedFields models.ProfileFields
		signedOut   *auth.Session
	)
	provider := &providerStub{
		signOutFn: func(_ context.Context, s *auth.Session) error {
			signedOut = s
			return nil
		},
	}
	profiles := &profileStoreStub{
		upsertFn: func(_ context.Context, uid string, fields models.ProfileFields) error {
			savedUID, savedFields = uid, fields
			return nil
		},
	}
	f := newTestFlow(provider, profiles)
	f.now = func() time.Time { return now }

	fillValid(t, f)
	require.True(t, f.SendVerification(ctx))
	require.True(t, f.CheckVerification(ctx))
	require.True(t, f.FinalSignup(ctx))

	want := models.ProfileFields{
		LoginID:   "tester1",
		Nickname:  "tester",
		Email:     "t@example.com",
		AuthEmail: "t@example.com",
		CreatedAt: now,
	}
	if diff := cmp.Diff(want, savedFields); diff != "" {
		t.Errorf("saved profile mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "uid-1", savedUID)
	require.NotNil(t, signedOut)
	assert.Equal(t, "uid-1", signedOut.Identity.UID)

	d := f.Draft()
	assert.Equal(t, PhaseComplete, d.Phase)
	assert.Nil(t, d.Session)
	assert.Equal(t, Result{ProfileSaved: true}, d.Result)
	assert.Equal(t, msgComplete, d.Message)
}

func TestFinalSignup_ProfileWriteRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failures   int
		wantCalls  int
		wantResult Result
	}{
		{name: "first attempt", failures: 0, wantCalls: 1, wantResult: Result{ProfileSaved: true}},
		{name: "retried once", failures: 1, wantCalls: 2, wantResult: Result{ProfileSaved: true}},
		{name: "gives up after retry", failures: 5, wantCalls: 2, wantResult: Result{ProfileSaveFailed: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			provider := &providerStub{}
			profiles := &profileStoreStub{}
			profiles.upsertFn = func(context.Context, string, models.ProfileFields) error {
				if profiles.upsertCalls <= tt.failures {
					return errors.New("deadline exceeded")
				}
				return nil
			}
			f := newTestFlow(provider, profiles)
			fillValid(t, f)
			require.True(t, f.SendVerification(ctx))
			require.True(t, f.CheckVerification(ctx))

			assert.True(t, f.FinalSignup(ctx))
			assert.Equal(t, tt.wantCalls, profiles.upsertCalls)
			assert.Equal(t, tt.wantResult, f.Draft().Result)
			assert.Equal(t, 1, provider.signOutCalls, "signs out even when the profile was not saved")
			assert.Equal(t, PhaseComplete, f.Draft().Phase)
		})
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	f := newTestFlow(&providerStub{}, &profileStoreStub{})
	fillValid(t, f)
	id := f.Draft().ID

	f.Reset()
	d := f.Draft()
	assert.Equal(t, id, d.ID)
	assert.Empty(t, d.LoginID)
	assert.False(t, d.Checked(FieldID))
	assert.Equal(t, PhaseEditing, d.Phase)
	assert.Empty(t, d.Errors)
}
