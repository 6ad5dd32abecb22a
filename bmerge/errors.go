package bmerge

import "github.com/cockroachdb/errors"

var (
	// ErrMissingPartition marks a sorted partition that a join configuration
	// requires but the upstream stage did not produce.
	ErrMissingPartition = errors.New("sorted partition missing")

	// ErrOwnershipViolation marks a row fetch routed to a node that does not
	// hold the row.
	ErrOwnershipViolation = errors.New("row not owned by node")
)

// OwnershipViolation reports row as requested from node although owner
// holds it. The error is an assertion failure and is never retried.
func OwnershipViolation(table string, row int64, node, owner int) error {
	return errors.Mark(
		errors.AssertionFailedf("table %s row %d requested from node %d but owned by node %d", table, row, node, owner),
		ErrOwnershipViolation)
}

// MissingLeftPartition reports an all-right join over a bucket with no
// left rows, a configuration this join does not implement.
func MissingLeftPartition(msb int) error {
	return errors.Mark(
		errors.UnimplementedErrorf(errors.IssueLink{Detail: "all-right binary merge"},
			"left partition %d is missing and the join keeps all right rows", msb),
		ErrMissingPartition)
}
