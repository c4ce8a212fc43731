package security

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a plain text password with bcrypt.
// bcrypt salts internally, so equal passwords produce different hashes.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password.

func CheckPassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
