package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPtrAndDeref(t *testing.T) {
	p := Ptr(42)
	assert.Equal(t, 42, *p)
	assert.Equal(t, 42, Deref(p, 7))
	assert.Equal(t, 7, Deref[int](nil, 7))
}

func TestCoalescePrefersLastSet(t *testing.T) {
	assert.Nil(t, Coalesce[int]())
	assert.Nil(t, Coalesce[int](nil, nil))
	assert.Equal(t, 2, *Coalesce(Ptr(1), Ptr(2), nil))
	assert.Equal(t, 1, *Coalesce(Ptr(1), nil))
}
