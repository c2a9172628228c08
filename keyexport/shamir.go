package keyexport

import (
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// SplitSecret splits a secret into shares of which threshold-many suffice to
// reconstruct it. Individual shares reveal nothing about the secret.
func SplitSecret(secret []byte, threshold, shares int) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("cannot split an empty secret")
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, errors.New("share count must be at least the threshold")
	}

	out, err := shamir.Split(secret, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return out, nil
}

// CombineShares reconstructs a secret from shares. At least the threshold
// used for the split must be supplied; with fewer or corrupted shares the
// result is garbage or an error, never the secret.
func CombineShares(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errors.New("need at least 2 shares")
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return secret, nil
}
