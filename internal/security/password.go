package security

import "golang.org/x/crypto/bcrypt"

// adminHashCost is the bcrypt work factor for admin password hashes. Login
// is a rare, single-operator action, so the cost can sit above the bcrypt
// default.
const adminHashCost = 12

// HashAdminPassword produces the bcrypt hash stored in the admin config.
// Operators generate it with the -hash-password flag on the binary.
func HashAdminPassword(plain string) (string, error) {
	hash, errHash := bcrypt.GenerateFromPassword([]byte(plain), adminHashCost)
	if errHash != nil {
		return "", errHash
	}
	return string(hash), nil
}

// VerifyAdminPassword reports whether plain matches the stored bcrypt hash.
func VerifyAdminPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
