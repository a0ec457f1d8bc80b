package utils

type float interface {
	~float32 | ~float64
}

/*
Floats converts a vector between float widths. Embedding SDKs disagree on
the element type, the store only speaks float32.
*/
func Floats[To, From float](in []From) []To {
	if in == nil {
		return nil
	}

	out := make([]To, len(in))

	for i, v := range in {
		out[i] = To(v)
	}

	return out
}
