package sample

// Decimate thins samples to at most maxPoints for display, keeping the
// oldest and the newest sample. dst is reused when it has enough capacity.
// A maxPoints <= 0 copies everything.
func Decimate(dst, samples []Sample, maxPoints int) []Sample {
	n := len(samples)
	if maxPoints <= 0 || n <= maxPoints {
		dst = grow(dst, n)
		copy(dst, samples)
		return dst
	}

	dst = grow(dst, maxPoints)
	if maxPoints == 1 {
		dst[0] = samples[n-1]
		return dst
	}

	// Spread the picks evenly over [0, n-1] so both ends are included.
	for i := 0; i < maxPoints; i++ {
		dst[i] = samples[i*(n-1)/(maxPoints-1)]
	}
	return dst
}

func grow(dst []Sample, n int) []Sample {
	if cap(dst) >= n {
		return dst[:n]
	}
	return make([]Sample, n)
}
