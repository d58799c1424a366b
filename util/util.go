package util

// Unpacks a slice into the given variables, in order
// Variables without a matching element keep their value, extra elements are ignored
// Returns how many variables were set
// Idea from https://stackoverflow.com/a/19832661
func Unpack[T any](toUnpack []T, unpackInto ...*T) int {
	n := min(len(toUnpack), len(unpackInto))
	for i := range n {
		*unpackInto[i] = toUnpack[i]
	}
	return n
}
