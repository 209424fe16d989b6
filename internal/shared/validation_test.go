package shared_test

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/campusdesk/campusdesk/internal/shared"
)

type signup struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
	Age   int    `validate:"min=3"`
}

func TestValidationMessages(t *testing.T) {
	messages := map[string]string{
		"Name.required": "Name is required",
		"Email":         "Please enter a valid email address",
	}
	err := validator.New().Struct(signup{Email: "nope", Age: 1})
	got := shared.ValidationMessages(err, messages)

	assert.Equal(t, "Name is required", got["Name"])
	assert.Equal(t, "Please enter a valid email address", got["Email"])
	assert.Contains(t, got["Age"], "min")
}

func TestValidationMessagesPassThrough(t *testing.T) {
	assert.Empty(t, shared.ValidationMessages(nil, nil))
	got := shared.ValidationMessages(errors.New("boom"), nil)
	assert.Equal(t, map[string]string{"general": "boom"}, got)
}
