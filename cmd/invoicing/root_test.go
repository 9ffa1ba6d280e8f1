package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "sweep-overdue", "reconcile-ledger"}, names)
}
