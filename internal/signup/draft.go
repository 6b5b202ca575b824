// Package signup implements the multi-step registration flow: field format
// validation, availability checks, account creation with email verification,
// and the final profile commit.
package signup

import (
	"fmt"

	"marketplace/internal/auth"

	"github.com/google/uuid"
)

// Field names one input of the signup form.
type Field string

const (
	FieldID       Field = "id"
	FieldNickname Field = "nickname"
	FieldEmail    Field = "email"
	FieldPassword Field = "password"
	FieldConfirm  Field = "confirm"
)

// Fields lists every form field in display order.
var Fields = []Field{FieldID, FieldNickname, FieldEmail, FieldPassword, FieldConfirm}

// CheckedFields are the fields that need an availability check.
var CheckedFields = []Field{FieldID, FieldNickname, FieldEmail}

// ParseField resolves a field name.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown signup field %q", s)
}

func (f Field) requiresCheck() bool {
	return f == FieldID || f == FieldNickname || f == FieldEmail
}

func (f Field) label() string {
	return string(f)
}

// Phase is the position of a draft in the signup lifecycle.
type Phase string

const (
	PhaseEditing             Phase = "editing"
	PhaseVerificationPending Phase = "verification_pending"
	PhaseVerified            Phase = "verified"
	PhaseComplete            Phase = "complete"
)

func (p Phase) rank() int {
	switch p {
	case PhaseVerificationPending:
		return 1
	case PhaseVerified:
		return 2
	case PhaseComplete:
		return 3
	default:
		return 0
	}
}

// Check is the outcome of an availability check, valid only for the exact
// value it was computed against.
type Check struct {
	Checked bool   `json:"checked"`
	Message string `json:"message,omitempty"`
}

// Result reports how the final commit went.
type Result struct {
	ProfileSaved      bool `json:"profile_saved"`
	ProfileSaveFailed bool `json:"profile_save_failed"`
}

// Draft is the transient state of one signup attempt.
type Draft struct {
	ID       string `json:"id"`
	LoginID  string `json:"login_id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Confirm  string `json:"confirm,omitempty"`

	Errors map[Field]string `json:"errors"`
	Checks map[Field]Check  `json:"checks"`

	Phase   Phase  `json:"phase"`
	Focus   Field  `json:"focus,omitempty"`
	Message string `json:"message,omitempty"`

	// Session is the one opened by account creation; cleared on sign-out.
	Session *auth.Session `json:"session,omitempty"`
	Result  Result        `json:"result"`
}

// NewDraft returns an empty draft. An empty id gets a fresh one.
func NewDraft(id string) *Draft {
	if id == "" {
		id = uuid.NewString()
	}
	d := &Draft{ID: id, Phase: PhaseEditing}
	d.ensureMaps()
	return d
}

func (d *Draft) ensureMaps() {
	if d.Errors == nil {
		d.Errors = make(map[Field]string)
	}
	if d.Checks == nil {
		d.Checks = make(map[Field]Check, len(CheckedFields))
	}
}

// Value returns the current text of field.
func (d *Draft) Value(field Field) string {
	switch field {
	case FieldID:
		return d.LoginID
	case FieldNickname:
		return d.Nickname
	case FieldEmail:
		return d.Email
	case FieldPassword:
		return d.Password
	case FieldConfirm:
		return d.Confirm
	}
	return ""
}

func (d *Draft) setValue(field Field, value string) {
	switch field {
	case FieldID:
		d.LoginID = value
	case FieldNickname:
		d.Nickname = value
	case FieldEmail:
		d.Email = value
	case FieldPassword:
		d.Password = value
	case FieldConfirm:
		d.Confirm = value
	}
}

// accountOpened reports whether an auth account was created from this draft.
func (d *Draft) accountOpened() bool {
	return d.Phase.rank() >= PhaseVerificationPending.rank()
}

// clearSecrets drops the password pair once it has been handed to the
// auth provider.
func (d *Draft) clearSecrets() {
	d.Password = ""
	d.Confirm = ""
	delete(d.Errors, FieldPassword)
	delete(d.Errors, FieldConfirm)
}

// Checked reports whether field passed its availability check for the
// current value.
func (d *Draft) Checked(field Field) bool {
	return d.Checks[field].Checked
}

// View is the client-facing projection of a draft. Secrets are omitted.
type View struct {
	ID            string           `json:"id"`
	LoginID       string           `json:"login_id"`
	Nickname      string           `json:"nickname"`
	Email         string           `json:"email"`
	Errors        map[Field]string `json:"errors"`
	Checks        map[Field]Check  `json:"checks"`
	Phase         Phase            `json:"phase"`
	Focus         Field            `json:"focus,omitempty"`
	Message       string           `json:"message,omitempty"`
	AccountOpened bool             `json:"account_opened"`
	Result        Result           `json:"result"`
}

// View projects the draft for clients.
func (d *Draft) View() View {
	errs := make(map[Field]string, len(d.Errors))
	for k, v := range d.Errors {
		if v != "" {
			errs[k] = v
		}
	}
	checks := make(map[Field]Check, len(CheckedFields))
	for _, f := range CheckedFields {
		checks[f] = d.Checks[f]
	}
	return View{
		ID:            d.ID,
		LoginID:       d.LoginID,
		Nickname:      d.Nickname,
		Email:         d.Email,
		Errors:        errs,
		Checks:        checks,
		Phase:         d.Phase,
		Focus:         d.Focus,
		Message:       d.Message,
		AccountOpened: d.Session != nil,
		Result:        d.Result,
	}
}
