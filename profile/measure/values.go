package measure

// Values is a sparse set of measurements. A kind is either defined with a
// value or absent; there is no defined-but-null state.
//
// The zero value is an empty set.
type Values struct {
	vals [numKinds]float64
	set  uint16
}

func (v *Values) Has(k Kind) bool {
	return v.set&(1<<uint(k)) != 0
}

func (v *Values) Get(k Kind) (float64, bool) {
	if !v.Has(k) {
		return 0, false
	}
	return v.vals[k], true
}

// Must returns the value of k, or an *UndefinedError.
func (v *Values) Must(k Kind) (float64, error) {
	if !v.Has(k) {
		return 0, &UndefinedError{Kind: k}
	}
	return v.vals[k], nil
}

func (v *Values) Set(k Kind, val float64) {
	v.vals[k] = val
	v.set |= 1 << uint(k)
}

// Unset removes k.
func (v *Values) Unset(k Kind) {
	v.vals[k] = 0
	v.set &^= 1 << uint(k)
}

// Add increments k by delta, defining it from its null value when absent.
func (v *Values) Add(k Kind, delta float64) {
	cur, ok := v.Get(k)
	if !ok {
		cur = k.Null()
	}
	v.Set(k, cur+delta)
}

// Defined lists the kinds present, in declaration order.
func (v *Values) Defined() []Kind {
	var out []Kind
	for k := Kind(0); k < numKinds; k++ {
		if v.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (v *Values) Len() int {
	n := 0
	for s := v.set; s != 0; s &= s - 1 {
		n++
	}
	return n
}
