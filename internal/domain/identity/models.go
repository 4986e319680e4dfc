// Package identity compares the account-owner data a bank reports for an
// item with the user who linked it.
package identity

import (
	"errors"
	"time"
)

var ErrCheckNotFound = errors.New("identity check not found")

// Owner is one account holder as the bank reports them.
type Owner struct {
	Names  []string
	Emails []string
}

// Check is the stored outcome of comparing an item's owners with its user.
type Check struct {
	ItemID      int64     `json:"itemId"`
	UserID      int64     `json:"userId"`
	NameMatch   bool      `json:"nameMatch"`
	EmailMatch  bool      `json:"emailMatch"`
	Passed      bool      `json:"passed"`
	OwnerNames  []string  `json:"ownerNames"`
	OwnerEmails []string  `json:"ownerEmails"`
	CheckedAt   time.Time `json:"checkedAt"`
}
