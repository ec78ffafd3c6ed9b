package util

// MaskSecret obscures an upstream credential for display and logging.
// Secrets shorter than 8 characters are shown in full; longer ones keep
// the first 3 and last 4 characters around an ellipsis.
func MaskSecret(secret string) string {
	if len(secret) < 8 {
		return secret
	}
	return secret[:3] + "..." + secret[len(secret)-4:]
}
