package protocol

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/DoyleJ11/mafia-session/internal/engine"
	"github.com/DoyleJ11/mafia-session/internal/roster"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("notblank", validators.NotBlank)
		// json.Marshal rewrites invalid UTF-8, so such strings would not survive a round trip
		_ = v.RegisterValidation("utf8", func(fl validator.FieldLevel) bool {
			return utf8.ValidString(fl.Field().String())
		})
		_ = v.RegisterValidation("phase", func(fl validator.FieldLevel) bool {
			return engine.Phase(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return engine.Role(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
			switch roster.Status(fl.Field().String()) {
			case roster.StatusActive, roster.StatusWaiting:
				return true
			}
			return false
		})
		validate = v
	})
	return validate
}

// Validate checks m against the shape its type requires.
func Validate(m Message) error {
	if _, ok := m.(HostLeft); ok {
		return nil
	}
	if err := validatorInstance().Struct(m); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, m.MessageType(), err)
	}
	return nil
}
