// Package tierlist stores tier lists and the ranked items inside them.
//
// A Tier belongs to exactly one user and is either private (visible to its
// owner and admins) or public (visible to every authenticated user). Items
// sit inside a tier at a non-negative rank; lower ranks sort first.
//
// Access control is not enforced here. Callers resolve the tier's owner and
// visibility with Get and pass them to auth.Policy before mutating anything.
package tierlist
