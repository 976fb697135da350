package memrepo

import (
	"errors"
	"fmt"
)

// errCheckViolation mirrors the users.balance >= 0 constraint.
var errCheckViolation = errors.New("memrepo: balance check constraint violated")

// errForeignKey mirrors the REFERENCES users(id) constraints.
func errForeignKey(table string, userID int64) error {
	return fmt.Errorf("memrepo: %s references unknown user %d", table, userID)
}

func errMissing(table string) error {
	return fmt.Errorf("memrepo: %s row not found", table)
}
