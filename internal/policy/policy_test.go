package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScreenAcceptsBenignCode(t *testing.T) {
	s := New()
	v := s.Screen("python", "print('hello')")
	assert.True(t, v.Valid)
}

func TestScreenRejectsOSSystem(t *testing.T) {
	s := New()
	v := s.Screen("python", "import os; os.system('ls')")
	assert.False(t, v.Valid)
	assert.Equal(t, "os-system-call", v.Reason)
}

func TestScreenRejectsBacktick(t *testing.T) {
	s := New()
	v := s.Screen("ruby", "x = `ls -la`")
	assert.False(t, v.Valid)
}

func TestScreenMemoized(t *testing.T) {
	s := New()
	v1 := s.Screen("python", "print(1)")
	v2 := s.Screen("python", "print(1)")
	assert.Equal(t, v1, v2)
}

func TestScreenUnknownLanguageNoPanic(t *testing.T) {
	s := New()
	v := s.Screen("cobol", "DISPLAY 'HI'.")
	assert.True(t, v.Valid)
}
