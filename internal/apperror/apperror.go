package apperror

import (
	"errors"
	"fmt"

	"github.com/sakif/checkinn/internal/locale"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Codes for the account errors surfaced to people signing in.
const (
	CodeInvalidCredentials          = "invalid_credentials"
	CodeAccountNotFound             = "account_not_found"
	CodeAccountAlreadyExists        = "account_already_exists"
	CodeNotAuthenticated            = "not_authenticated"
	CodeMissingThirdPartyNonce      = "missing_third_party_nonce"
	CodeInvalidThirdPartyCredential = "invalid_third_party_credential"
	CodeInvalidThirdPartyToken      = "invalid_third_party_token"
)

type AppError struct {
	Err     error  // actual error
	Code    string // Optional: stable machine-readable code
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func InvalidCredentials() *AppError {
	return coded(ErrUnauthorized, CodeInvalidCredentials)
}

func AccountNotFound() *AppError {
	return coded(ErrNotFound, CodeAccountNotFound)
}

func AccountAlreadyExists() *AppError {
	return coded(ErrConflict, CodeAccountAlreadyExists)
}

func NotAuthenticated() *AppError {
	return coded(ErrUnauthorized, CodeNotAuthenticated)
}

func MissingThirdPartyNonce() *AppError {
	return coded(ErrValidation, CodeMissingThirdPartyNonce)
}

func InvalidThirdPartyCredential() *AppError {
	return coded(ErrValidation, CodeInvalidThirdPartyCredential)
}

func InvalidThirdPartyToken() *AppError {
	return coded(ErrUnauthorized, CodeInvalidThirdPartyToken)
}

func coded(kind error, code string) *AppError {
	return &AppError{
		Err:     kind,
		Code:    code,
		Message: messages[code].en,
	}
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

type localized struct {
	ja, en string
}

var messages = map[string]localized{
	CodeInvalidCredentials: {
		ja: "メールアドレスまたはパスワードが不正です。",
		en: "The email address or password is invalid.",
	},
	CodeAccountNotFound: {
		ja: "アカウントが見つかりません。新規登録してください。",
		en: "Account not found. Please create a new account.",
	},
	CodeAccountAlreadyExists: {
		ja: "このメールアドレスはすでに登録されています。",
		en: "This email address is already registered.",
	},
	CodeNotAuthenticated: {
		ja: "ログイン状態が見つかりません。",
		en: "No active session was found.",
	},
	CodeMissingThirdPartyNonce: {
		ja: "Appleサインインの内部状態が失われました。再度お試しください。",
		en: "Apple sign-in internal state was lost. Please try again.",
	},
	CodeInvalidThirdPartyCredential: {
		ja: "Appleサインインの認証情報を取得できませんでした。",
		en: "Could not retrieve Apple sign-in credentials.",
	},
	CodeInvalidThirdPartyToken: {
		ja: "AppleのIDトークンを取得できませんでした。",
		en: "Could not retrieve Apple ID token.",
	},
}

var genericMessage = localized{
	ja: "エラーが発生しました。しばらくしてから再度お試しください。",
	en: "Something went wrong. Please try again later.",
}

// Localize turns any error into text that can be shown to the user.
// Coded errors get their translated message, other AppErrors keep their own
// message, anything else collapses to a generic sentence.
func Localize(err error, lang locale.Language) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return locale.Text(lang, genericMessage.ja, genericMessage.en)
	}
	if m, ok := messages[appErr.Code]; ok {
		return locale.Text(lang, m.ja, m.en)
	}
	return appErr.Message
}
