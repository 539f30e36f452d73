package kdb

import "fmt"

// Indexing operations. The At* forms panic on contract violation the way
// q does on type errors; every one has a Try* counterpart returning the
// typed error instead.

// findKeyPos locates key within the keys vector by equality. Symbol,
// long, int and float keys are supported.
func findKeyPos(keys, key *K) (int, error) {
	switch key.Type {
	case -KS:
		want, _ := key.Data.(string)
		data, ok := keys.Data.([]string)
		if !ok || keys.Type != KS {
			return 0, ErrWrongType
		}
		for i, s := range data {
			if s == want {
				return i, nil
			}
		}
	case -KJ:
		want, _ := key.Data.(int64)
		data, ok := keys.Data.([]int64)
		if !ok || keys.Type != KJ {
			return 0, ErrWrongType
		}
		for i, x := range data {
			if x == want {
				return i, nil
			}
		}
	case -KI:
		want, _ := key.Data.(int32)
		data, ok := keys.Data.([]int32)
		if !ok || keys.Type != KI {
			return 0, ErrWrongType
		}
		for i, x := range data {
			if x == want {
				return i, nil
			}
		}
	case -KF:
		want, _ := key.Data.(float64)
		data, ok := keys.Data.([]float64)
		if !ok || keys.Type != KF {
			return 0, ErrWrongType
		}
		for i, x := range data {
			if x == want {
				return i, nil
			}
		}
	default:
		return 0, ErrUnsupportedKeyType
	}
	return 0, ErrKeyNotFound
}

// TryAt returns dictionary keys for ordinal 0 and values for ordinal 1.
func (k *K) TryAt(i int) (*K, error) {
	d, err := k.Dict()
	if err != nil {
		return nil, err
	}
	switch i {
	case 0:
		return d.Key, nil
	case 1:
		return d.Value, nil
	}
	return nil, ErrIndexOutOfBounds
}

// At is the panicking form of TryAt.
func (k *K) At(i int) *K {
	v, err := k.TryAt(i)
	if err != nil {
		panic(fmt.Sprintf("kdb: At(%d) on %v value: %v", i, k.Type, err))
	}
	return v
}

// TryAtKey looks a key up in a dictionary and returns the value at the
// matching position, wrapped as an atom when the value side is typed.
func (k *K) TryAtKey(key *K) (*K, error) {
	d, err := k.Dict()
	if err != nil {
		return nil, err
	}
	pos, err := findKeyPos(d.Key, key)
	if err != nil {
		return nil, err
	}
	return d.Value.Elem(pos)
}

// AtKey is the panicking form of TryAtKey.
func (k *K) AtKey(key *K) *K {
	v, err := k.TryAtKey(key)
	if err != nil {
		panic(fmt.Sprintf("kdb: AtKey(%v): %v", key, err))
	}
	return v
}

// Get is an alias of TryAtKey.
func (k *K) Get(key *K) (*K, error) { return k.TryAtKey(key) }

// Set replaces the value at the position of key, preserving the kind of
// the value side: a typed value vector takes the matching atom's scalar
// payload; a compound list takes v as-is.
func (k *K) Set(key, v *K) error {
	d, err := k.Dict()
	if err != nil {
		return err
	}
	pos, err := findKeyPos(d.Key, key)
	if err != nil {
		return err
	}
	if data, ok := d.Value.Data.([]*K); ok && d.Value.Type == K0 {
		data[pos] = v
		return nil
	}
	if !d.Value.vectorShaped() {
		return ErrWrongType
	}
	if v.Type != -d.Value.Type {
		return ErrWrongType
	}
	return d.Value.SetElem(pos, v.Data)
}

// TryAtColumn returns a table column vector by name.
func (k *K) TryAtColumn(name string) (*K, error) {
	t, err := k.Table()
	if err != nil {
		return nil, err
	}
	for i, c := range t.Columns {
		if c == name {
			return t.Data[i], nil
		}
	}
	return nil, ErrKeyNotFound
}

// AtColumn is the panicking form of TryAtColumn.
func (k *K) AtColumn(name string) *K {
	v, err := k.TryAtColumn(name)
	if err != nil {
		panic(fmt.Sprintf("kdb: AtColumn(%q): %v", name, err))
	}
	return v
}
