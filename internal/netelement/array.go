package netelement

import "fmt"

// NetArray массив с отслеживанием изменений по индексам
type NetArray[T any] struct {
	version     *Version
	codec       Codec[T]
	values      []T
	versions    []uint64
	sizeVersion uint64
}

// NewNetArray создаёт массив заданного размера
func NewNetArray[T any](codec Codec[T], size int) *NetArray[T] {
	return &NetArray[T]{
		codec:    codec,
		values:   make([]T, size),
		versions: make([]uint64, size),
	}
}

func (a *NetArray[T]) current() uint64 {
	if a.version == nil {
		return 0
	}
	return a.version.Current()
}

// Size размер массива
func (a *NetArray[T]) Size() int { return len(a.values) }

// Get элемент по индексу
func (a *NetArray[T]) Get(i int) T { return a.values[i] }

// Values копия всех значений
func (a *NetArray[T]) Values() []T {
	out := make([]T, len(a.values))
	copy(out, a.values)
	return out
}

// Set меняет элемент
func (a *NetArray[T]) Set(i int, v T) {
	if a.codec.Equal(a.values[i], v) {
		return
	}
	a.values[i] = v
	a.versions[i] = a.current()
}

// Resize меняет размер массива
func (a *NetArray[T]) Resize(n int) {
	if n == len(a.values) {
		return
	}
	if n < len(a.values) {
		a.values = a.values[:n]
		a.versions = a.versions[:n]
	} else {
		var zero T
		cur := a.current()
		for len(a.values) < n {
			a.values = append(a.values, zero)
			a.versions = append(a.versions, cur)
		}
	}
	a.sizeVersion = a.current()
}

func (a *NetArray[T]) InitNetVersion(v *Version) {
	a.version = v
	a.sizeVersion = 0
	for i := range a.versions {
		a.versions[i] = 0
	}
}

func (a *NetArray[T]) NetStore(ds *DataStream, _ CompatibilityRules) {
	ds.WriteVarUint(uint64(len(a.values)))
	for _, v := range a.values {
		a.codec.Write(ds, v)
	}
}

func (a *NetArray[T]) NetLoad(ds *DataStream, _ CompatibilityRules) error {
	n := ds.ReadVarUint()
	if err := ds.Err(); err != nil {
		return err
	}
	if n > uint64(ds.Remaining()) {
		return fmt.Errorf("%w: массив из %d элементов", ErrShortRead, n)
	}
	values := make([]T, n)
	for i := range values {
		values[i] = a.codec.Read(ds)
	}
	if err := ds.Err(); err != nil {
		return err
	}
	cur := a.current()
	a.values = values
	a.versions = make([]uint64, n)
	for i := range a.versions {
		a.versions[i] = cur
	}
	a.sizeVersion = cur
	return nil
}

func (a *NetArray[T]) WriteNetDelta(ds *DataStream, fromVersion uint64, _ CompatibilityRules) bool {
	changed := a.sizeVersion > fromVersion
	for _, ver := range a.versions {
		if ver > fromVersion {
			changed = true
			break
		}
	}
	if !changed {
		return false
	}

	if a.sizeVersion > fromVersion {
		ds.WriteVarUint(uint64(len(a.values)) + 1)
	} else {
		ds.WriteVarUint(0)
	}
	for i, ver := range a.versions {
		if ver > fromVersion {
			ds.WriteVarUint(uint64(i) + 1)
			a.codec.Write(ds, a.values[i])
		}
	}
	ds.WriteVarUint(0)
	return true
}

func (a *NetArray[T]) ReadNetDelta(ds *DataStream, interpolationTime float64, rules CompatibilityRules) error {
	commit, err := a.decodeNetDelta(ds, rules)
	if err != nil {
		return err
	}
	return commit(interpolationTime)
}

type arrayEntry[T any] struct {
	index int
	value T
}

func (a *NetArray[T]) decodeNetDelta(ds *DataStream, _ CompatibilityRules) (stagedDelta, error) {
	size := ds.ReadVarUint()
	if err := ds.Err(); err != nil {
		return nil, err
	}
	newSize := len(a.values)
	if size > 0 {
		if size-1 > uint64(ds.Remaining())+uint64(len(a.values)) {
			return nil, fmt.Errorf("%w: размер массива %d", ErrShortRead, size-1)
		}
		newSize = int(size - 1)
	}
	var entries []arrayEntry[T]
	for {
		idx := ds.ReadVarUint()
		if err := ds.Err(); err != nil {
			return nil, err
		}
		if idx == 0 {
			break
		}
		if idx-1 >= uint64(newSize) {
			return nil, fmt.Errorf("%w: индекс массива %d", ErrUnknownElement, idx-1)
		}
		v := a.codec.Read(ds)
		if err := ds.Err(); err != nil {
			return nil, err
		}
		entries = append(entries, arrayEntry[T]{index: int(idx - 1), value: v})
	}
	return func(float64) error {
		a.Resize(newSize)
		cur := a.current()
		for _, e := range entries {
			a.values[e.index] = e.value
			a.versions[e.index] = cur
		}
		return nil
	}, nil
}

func (a *NetArray[T]) EnableNetInterpolation() {}
func (a *NetArray[T]) DisableNetInterpolation() {}
func (a *NetArray[T]) TickNetInterpolation(_ float64) {}
