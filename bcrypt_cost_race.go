//go:build race

package onboard

import "golang.org/x/crypto/bcrypt"

// race builds hash at the library minimum; the race detector slows bcrypt
// several times over.
const passwordHashCost = bcrypt.MinCost
