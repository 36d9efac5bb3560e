//go:build !race

package onboard

const passwordHashCost = PasswordHashCost
