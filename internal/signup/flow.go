package signup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
	"marketplace/internal/validation"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProfileStore is the subset of the profile repository the flow needs.
type ProfileStore interface {
	FindByField(ctx context.Context, field repository.ProfileField, value string) (*models.Profile, error)
	Upsert(ctx context.Context, uid string, fields models.ProfileFields) error
}

// User-facing messages.
const (
	msgCheckFailed       = "Failed to check availability. Please try again."
	msgEmailLocked       = "The email cannot be changed after the verification mail was sent. Start over to use another address."
	msgPasswordLocked    = "The password was already set for the new account. Start over to use another password."
	msgVerificationSent  = "A verification email has been sent. Click the link in the mail, then check the verification."
	msgSendFailed        = "Failed to send verification email: "
	msgAlreadyVerified   = "The email is already verified."
	msgVerified          = "Email verification complete. You can now complete the signup."
	msgNotVerified       = "Email is not verified yet. Click the link in the mail and try again."
	msgVerifyCheckFailed = "Failed to check the verification status. Please try again."
	msgNoAccount         = "Please send the verification email first."
	msgVerifyFirst       = "Please verify your email first."
	msgComplete          = "Signup complete. Please log in."
	msgProfileSaveFailed = "Your account was created but saving the profile failed. Please contact support."
)

func msgTaken(f Field) string     { return fmt.Sprintf("That %s is already in use.", f.label()) }
func msgAvailable(f Field) string { return fmt.Sprintf("This %s is available.", f.label()) }
func msgCheckFirst(f Field) string {
	return fmt.Sprintf("Please check the %s for duplicates.", f.label())
}

// duplicateLookup maps a checked field to the profile attribute it must be
// unique against. Emails are checked against the sign-in address.
var duplicateLookup = map[Field]repository.ProfileField{
	FieldID:       repository.ProfileLoginID,
	FieldNickname: repository.ProfileNickname,
	FieldEmail:    repository.ProfileAuthEmail,
}

// Flow runs the signup operations against one draft. Operations never
// return errors: outcomes are recorded on the draft and the bool reports
// success. A Flow is not safe for concurrent use.
type Flow struct {
	draft    *Draft
	auth     auth.Provider
	profiles ProfileStore
	log      *slog.Logger
	now      func() time.Time

	// failure is the collaborator error of the running operation, if any.
	failure error
}

// NewFlow binds a draft to its collaborators.
func NewFlow(draft *Draft, provider auth.Provider, profiles ProfileStore, log *slog.Logger) *Flow {
	if log == nil {
		log = slog.Default()
	}
	draft.ensureMaps()
	return &Flow{
		draft:    draft,
		auth:     provider,
		profiles: profiles,
		log:      log,
		now:      time.Now,
	}
}

// Draft returns the draft the flow operates on.
func (f *Flow) Draft() *Draft {
	return f.draft
}

// SetField updates one field. Editing a checked field drops its check, and a
// field's format is re-validated only when it already shows an error. The
// email and password are locked once an account was created with them.
func (f *Flow) SetField(field Field, value string) bool {
	d := f.draft
	d.Focus = ""

	if d.accountOpened() {
		switch field {
		case FieldEmail:
			if value != d.Email {
				d.Errors[FieldEmail] = msgEmailLocked
				return false
			}
			return true
		case FieldPassword, FieldConfirm:
			if value != "" {
				d.Errors[field] = msgPasswordLocked
				return false
			}
			return true
		}
	}

	changed := d.Value(field) != value
	d.setValue(field, value)

	if field.requiresCheck() && changed {
		d.Checks[field] = Check{}
	}

	switch field {
	case FieldPassword:
		if d.Errors[FieldPassword] != "" {
			f.Validate(FieldPassword)
		}
		if d.Confirm != "" {
			f.Validate(FieldConfirm)
		}
	case FieldConfirm:
		if d.Confirm != "" || d.Errors[FieldConfirm] != "" {
			f.Validate(FieldConfirm)
		}
	default:
		if d.Errors[field] != "" {
			f.Validate(field)
		}
	}
	return true
}

// Validate applies the format rule of field and records the error.
func (f *Flow) Validate(field Field) bool {
	var err error
	d := f.draft
	if (field == FieldPassword || field == FieldConfirm) && d.accountOpened() {
		// Already handed to the auth provider and cleared.
		delete(d.Errors, field)
		return true
	}
	switch field {
	case FieldID:
		err = validation.ValidateID(d.LoginID)
	case FieldNickname:
		err = validation.ValidateNickname(d.Nickname)
	case FieldEmail:
		err = validation.ValidateEmail(d.Email)
	case FieldPassword:
		err = validation.ValidatePassword(d.Password)
	case FieldConfirm:
		err = validation.ValidateConfirm(d.Password, d.Confirm)
	default:
		return false
	}

	if err != nil {
		d.Errors[field] = err.Error()
		return false
	}
	delete(d.Errors, field)
	return true
}

// CheckDuplicate asks the profile store whether the value of field is
// already taken. The field must pass format validation first.
func (f *Flow) CheckDuplicate(ctx context.Context, field Field) bool {
	lookup, ok := duplicateLookup[field]
	if !ok {
		return false
	}
	d := f.draft
	if field == FieldEmail && d.accountOpened() {
		// The address is bound to the created account already.
		return d.Checked(FieldEmail)
	}
	if !f.Validate(field) {
		observability.DuplicateChecks.WithLabelValues(string(field), observability.OutcomeRejected).Inc()
		return false
	}

	value := d.Value(field)
	existing, err := f.profiles.FindByField(ctx, lookup, value)
	if err != nil {
		f.log.ErrorContext(ctx, "duplicate check failed", "field", field, "err", err)
		observability.DuplicateChecks.WithLabelValues(string(field), observability.OutcomeFailed).Inc()
		d.Checks[field] = Check{}
		d.Errors[field] = msgCheckFailed
		return false
	}
	if existing != nil {
		observability.DuplicateChecks.WithLabelValues(string(field), observability.OutcomeRejected).Inc()
		d.Checks[field] = Check{}
		d.Errors[field] = msgTaken(field)
		return false
	}

	observability.DuplicateChecks.WithLabelValues(string(field), observability.OutcomeOK).Inc()
	d.Checks[field] = Check{Checked: true, Message: msgAvailable(field)}
	return true
}

// SendVerification creates the auth account and dispatches the verification
// mail. Nothing is sent unless every field is checked and valid; the field
// to fix is left in Draft.Focus. Once an account exists, calling it again
// only re-sends the mail.
func (f *Flow) SendVerification(ctx context.Context) (ok bool) {
	ctx, done := f.trace(ctx, "signup.SendVerification")
	defer func() { done(ok) }()

	d := f.draft
	d.Focus = ""

	switch d.Phase {
	case PhaseVerified, PhaseComplete:
		d.Message = msgAlreadyVerified
		return false
	case PhaseVerificationPending:
		if d.Session != nil {
			return f.dispatchVerification(ctx)
		}
	}

	if !f.preconditionsMet() {
		observability.SignupSteps.WithLabelValues("send_verification", observability.OutcomeRejected).Inc()
		return false
	}

	session, err := f.auth.CreateAccount(ctx, d.Email, d.Password)
	if err != nil {
		f.log.ErrorContext(ctx, "account creation failed", "category", auth.CategoryOf(err), "err", err)
		f.failure = err
		observability.SignupSteps.WithLabelValues("send_verification", observability.OutcomeFailed).Inc()
		if msg, ok := auth.UserMessage(err); ok {
			d.Message = msg
		} else {
			d.Message = msgSendFailed + err.Error()
		}
		if auth.CategoryOf(err) == auth.CategoryAlreadyInUse {
			d.Checks[FieldEmail] = Check{}
			d.Errors[FieldEmail] = msgTaken(FieldEmail)
			d.Focus = FieldEmail
		}
		return false
	}

	d.Session = session
	d.Phase = PhaseVerificationPending
	d.Result = Result{}
	// The account holds the password now; the draft is persisted and must not.
	d.clearSecrets()
	return f.dispatchVerification(ctx)
}

func (f *Flow) preconditionsMet() bool {
	d := f.draft
	fail := func(field Field, msg string) bool {
		if msg != "" {
			d.Errors[field] = msg
		}
		d.Focus = field
		return false
	}

	if !d.Checked(FieldID) {
		return fail(FieldID, msgCheckFirst(FieldID))
	}
	if !d.Checked(FieldNickname) {
		return fail(FieldNickname, msgCheckFirst(FieldNickname))
	}
	if !f.Validate(FieldEmail) {
		return fail(FieldEmail, "")
	}
	if !d.Checked(FieldEmail) {
		return fail(FieldEmail, msgCheckFirst(FieldEmail))
	}
	if !f.Validate(FieldPassword) {
		return fail(FieldPassword, "")
	}
	if !f.Validate(FieldConfirm) {
		return fail(FieldConfirm, "")
	}
	return true
}

func (f *Flow) dispatchVerification(ctx context.Context) bool {
	d := f.draft
	if err := f.auth.SendVerificationEmail(ctx, d.Session.Identity); err != nil {
		f.log.ErrorContext(ctx, "verification email dispatch failed", "uid", d.Session.Identity.UID, "err", err)
		f.failure = err
		observability.SignupSteps.WithLabelValues("send_verification", observability.OutcomeFailed).Inc()
		if msg, ok := auth.UserMessage(err); ok {
			d.Message = msg
		} else {
			d.Message = msgSendFailed + err.Error()
		}
		return false
	}
	observability.SignupSteps.WithLabelValues("send_verification", observability.OutcomeOK).Inc()
	d.Message = msgVerificationSent
	return true
}

// CheckVerification asks the auth provider whether the email was verified.
// It is user-triggered polling; nothing retries in the background.
func (f *Flow) CheckVerification(ctx context.Context) bool {
	d := f.draft
	switch {
	case d.Phase == PhaseVerified:
		return true
	case d.Phase != PhaseVerificationPending || d.Session == nil:
		d.Message = msgNoAccount
		return false
	}

	verified, err := f.auth.RefreshAndCheckVerified(ctx, d.Session.Identity)
	if err != nil {
		f.log.ErrorContext(ctx, "verification check failed", "uid", d.Session.Identity.UID, "err", err)
		observability.SignupSteps.WithLabelValues("check_verification", observability.OutcomeFailed).Inc()
		d.Message = msgVerifyCheckFailed
		return false
	}
	if !verified {
		observability.SignupSteps.WithLabelValues("check_verification", observability.OutcomeRejected).Inc()
		d.Message = msgNotVerified
		return false
	}

	observability.SignupSteps.WithLabelValues("check_verification", observability.OutcomeOK).Inc()
	d.Session.Identity.EmailVerified = true
	d.Phase = PhaseVerified
	d.Message = msgVerified
	return true
}

// FinalSignup persists the profile and signs the new account out. The
// profile write is retried once; a second failure is recorded in
// Draft.Result and the flow still completes.
func (f *Flow) FinalSignup(ctx context.Context) (ok bool) {
	ctx, done := f.trace(ctx, "signup.FinalSignup")
	defer func() { done(ok) }()

	d := f.draft
	d.Focus = ""
	if d.Phase != PhaseVerified || d.Session == nil {
		d.Message = msgVerifyFirst
		observability.SignupSteps.WithLabelValues("final_signup", observability.OutcomeRejected).Inc()
		return false
	}
	// id and nickname stay editable after verification.
	for _, field := range []Field{FieldID, FieldNickname} {
		if !d.Checked(field) {
			d.Errors[field] = msgCheckFirst(field)
			d.Focus = field
			observability.SignupSteps.WithLabelValues("final_signup", observability.OutcomeRejected).Inc()
			return false
		}
	}

	identity := d.Session.Identity
	fields := models.ProfileFields{
		LoginID:   d.LoginID,
		Nickname:  d.Nickname,
		Email:     d.Email,
		AuthEmail: identity.Email,
		CreatedAt: f.now().UTC(),
	}

	err := f.profiles.Upsert(ctx, identity.UID, fields)
	if err != nil {
		f.log.WarnContext(ctx, "profile save failed, retrying", "uid", identity.UID, "err", err)
		err = f.profiles.Upsert(ctx, identity.UID, fields)
	}
	if err != nil {
		f.log.ErrorContext(ctx, "profile save failed after retry", "uid", identity.UID, "err", err)
		f.failure = err
		observability.SignupSteps.WithLabelValues("final_signup", observability.OutcomeFailed).Inc()
		d.Result = Result{ProfileSaveFailed: true}
		d.Message = msgProfileSaveFailed
	} else {
		observability.SignupSteps.WithLabelValues("final_signup", observability.OutcomeOK).Inc()
		d.Result = Result{ProfileSaved: true}
		d.Message = msgComplete
	}

	if err := f.auth.SignOut(ctx, d.Session); err != nil {
		f.log.ErrorContext(ctx, "sign out after signup failed", "uid", identity.UID, "err", err)
	}
	d.Session = nil
	d.Phase = PhaseComplete
	d.clearSecrets()
	return true
}

// trace starts a span for one flow operation. The returned func ends it
// with the outcome and any collaborator failure.
func (f *Flow) trace(ctx context.Context, name string) (context.Context, func(ok bool)) {
	f.failure = nil
	ctx, span := observability.StartSpan(ctx, name,
		attribute.String("signup.draft_id", f.draft.ID),
		attribute.String("signup.phase_before", string(f.draft.Phase)),
	)
	return ctx, func(ok bool) {
		endFlowSpan(span, f.draft, ok, f.failure)
	}
}

func endFlowSpan(span trace.Span, d *Draft, ok bool, failure error) {
	span.SetAttributes(
		attribute.Bool("signup.ok", ok),
		attribute.String("signup.phase", string(d.Phase)),
	)
	if d.Session != nil {
		span.SetAttributes(attribute.String("user.id", d.Session.Identity.UID))
	}
	observability.EndSpan(span, failure)
}

// Reset clears the draft back to an empty editing state, keeping its id.
func (f *Flow) Reset() {
	*f.draft = *NewDraft(f.draft.ID)
}
