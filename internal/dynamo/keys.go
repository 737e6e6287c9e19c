// Package dynamo provides shared DynamoDB constants and utilities.
package dynamo

import "strings"

const (
	// Primary key attributes.
	AttrPK = "pk"
	AttrSK = "sk"

	// AttrTTL holds the epoch second after which DynamoDB may expire an item.
	AttrTTL = "ttl"

	// Key prefixes.
	PrefixAccount    = "ACCOUNT#"
	PrefixSpace      = "SPACE#"
	PrefixAttachment = "ATTACHMENT#"

	// LSI sort key attributes.
	AttrLSI1SK = "lsi1sk"

	// Index names.
	IndexLSI1 = "lsi1"
)

// AccountPK returns the partition key of an account.
func AccountPK(accountID string) string {
	return PrefixAccount + accountID
}

// AccountFromPK extracts the account ID from a partition key.
func AccountFromPK(pk string) (string, bool) {
	return strings.CutPrefix(pk, PrefixAccount)
}

// SpaceFromSK extracts the composition space ID from a space sort key.
func SpaceFromSK(sk string) (string, bool) {
	return strings.CutPrefix(sk, PrefixSpace)
}
