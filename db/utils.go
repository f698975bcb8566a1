package db

// UpperBound returns the smallest key that is strictly greater than every key with the given
// prefix, or nil if no such key exists (prefix is all 0xff).
func UpperBound(prefix []byte) []byte {
	upperBound := make([]byte, len(prefix))
	copy(upperBound, prefix)

	for i := len(upperBound) - 1; i >= 0; i-- {
		upperBound[i]++
		if upperBound[i] != 0 {
			return upperBound[:i+1]
		}
	}

	return nil
}
