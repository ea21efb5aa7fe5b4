package netelement

// NetEvent событие с передним фронтом: передаётся счётчик срабатываний,
// читатель получает разницу с последним просмотренным значением.
type NetEvent struct {
	version       *Version
	updateVersion uint64
	count         uint64
	pulled        uint64
}

// NewNetEvent создаёт событие
func NewNetEvent() *NetEvent {
	return &NetEvent{}
}

// Trigger регистрирует срабатывание
func (e *NetEvent) Trigger() {
	e.count++
	if e.version != nil {
		e.updateVersion = e.version.Current()
	}
}

// PullOccurrences возвращает количество срабатываний с прошлого вызова
func (e *NetEvent) PullOccurrences() uint64 {
	n := e.count - e.pulled
	e.pulled = e.count
	return n
}

// PullOccurred были ли срабатывания с прошлого вызова
func (e *NetEvent) PullOccurred() bool {
	return e.PullOccurrences() > 0
}

// IgnoreOccurrences пропускает накопленные срабатывания
func (e *NetEvent) IgnoreOccurrences() {
	e.pulled = e.count
}

func (e *NetEvent) InitNetVersion(v *Version) {
	e.version = v
	e.updateVersion = 0
}

func (e *NetEvent) NetStore(ds *DataStream, _ CompatibilityRules) {
	ds.WriteVarUint(e.count)
}

// NetLoad не генерирует срабатываний: полное состояние только синхронизирует счётчик
func (e *NetEvent) NetLoad(ds *DataStream, _ CompatibilityRules) error {
	c := ds.ReadVarUint()
	if err := ds.Err(); err != nil {
		return err
	}
	e.count = c
	e.pulled = c
	return nil
}

func (e *NetEvent) WriteNetDelta(ds *DataStream, fromVersion uint64, _ CompatibilityRules) bool {
	if e.updateVersion <= fromVersion {
		return false
	}
	ds.WriteVarUint(e.count)
	return true
}

func (e *NetEvent) ReadNetDelta(ds *DataStream, interpolationTime float64, rules CompatibilityRules) error {
	commit, err := e.decodeNetDelta(ds, rules)
	if err != nil {
		return err
	}
	return commit(interpolationTime)
}

func (e *NetEvent) decodeNetDelta(ds *DataStream, _ CompatibilityRules) (stagedDelta, error) {
	c := ds.ReadVarUint()
	if err := ds.Err(); err != nil {
		return nil, err
	}
	return func(float64) error {
		if c < e.count {
			// счётчик у мастера был пересоздан; считаем одно срабатывание
			e.pulled = c - 1
			if c == 0 {
				e.pulled = 0
			}
		}
		e.count = c
		if e.version != nil {
			e.updateVersion = e.version.Current()
		}
		return nil
	}, nil
}

func (e *NetEvent) EnableNetInterpolation() {}
func (e *NetEvent) DisableNetInterpolation() {}
func (e *NetEvent) TickNetInterpolation(_ float64) {}
