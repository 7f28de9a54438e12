package utils

// Index is a list of concrete positions along one axis, or of flat offsets
type Index []int

func NewIndex(N int) (I Index) {
	return make(Index, N)
}

// NewRange is the positions rmin through rmax-1
func NewRange(rmin, rmax int) (r Index) {
	if rmax < rmin {
		return Index{}
	}
	r = make(Index, rmax-rmin)
	for i := range r {
		r[i] = i + rmin
	}
	return
}

func (I Index) Add(val int) (r Index) {
	return I.Apply(func(v int) int { return v + val })
}

func (I Index) Apply(f func(val int) int) (r Index) {
	r = make(Index, len(I))
	for i, val := range I {
		r[i] = f(val)
	}
	return
}
