package ids

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey_Valid(t *testing.T) {
	assert.NoError(t, ValidateKey("user-42"))
	assert.NoError(t, ValidateKey("order.2026"))
}

func TestValidateKey_RejectsEmpty(t *testing.T) {
	err := ValidateKey("")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestValidateKey_RejectsPathSeparators(t *testing.T) {
	assert.Error(t, ValidateKey("a/b"))
	assert.Error(t, ValidateKey("a\\b"))
}

func TestValidateKey_RejectsTraversal(t *testing.T) {
	err := ValidateKey("../etc/passwd")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestNewTransactionID_Unique(t *testing.T) {
	a := NewTransactionID()
	b := NewTransactionID()
	assert.NotEqual(t, a, b)
}
