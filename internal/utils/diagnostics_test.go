package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterLinkLocal(t *testing.T) {
	assert.Equal(t, []string{"192.168.1.20"}, FilterLinkLocal([]string{"169.254.3.4", "192.168.1.20"}))
	assert.Equal(t, []string{"169.254.3.4"}, FilterLinkLocal([]string{"169.254.3.4"}))
	assert.Empty(t, FilterLinkLocal(nil))
}
