package utils

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}

// HashPassword returns a bcrypt hash using the given cost. Costs outside
// bcrypt's accepted range fall back to bcrypt.DefaultCost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), normalizeCost(cost))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

var (
	dummyMu     sync.Mutex
	dummyHashes = map[int][]byte{}
)

// dummyHash returns a throwaway hash at cost, generated once per cost.
func dummyHash(cost int) []byte {
	cost = normalizeCost(cost)
	dummyMu.Lock()
	defer dummyMu.Unlock()
	h, ok := dummyHashes[cost]
	if !ok {
		h, _ = bcrypt.GenerateFromPassword([]byte("guardian-auth-timing-pad"), cost)
		dummyHashes[cost] = h
	}
	return h
}

// BurnPasswordCheck runs a bcrypt comparison against a throwaway hash made
// at the same cost as real hashes, so a login for an unknown email costs the
// same as one with a wrong password.
func BurnPasswordCheck(plain string, cost int) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(cost), []byte(plain))
}
