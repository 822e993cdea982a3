package spectral

// Shift rotates x in place so that the DC bin moves from index 0 to index
// len(x)/2. For odd lengths the extra bin stays on the negative side.
func Shift[T any](x []T) {
	n := len(x)
	rotateLeft(x, n-n/2)
}

// Unshift undoes Shift for any length.
func Unshift[T any](x []T) {
	rotateLeft(x, len(x)/2)
}

func rotateLeft[T any](x []T, k int) {
	n := len(x)
	if n == 0 {
		return
	}
	k %= n
	if k == 0 {
		return
	}
	reverse(x[:k])
	reverse(x[k:])
	reverse(x)
}

func reverse[T any](x []T) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
