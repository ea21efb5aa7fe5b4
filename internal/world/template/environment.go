package template

import (
	"math"

	"github.com/annel0/tileverse/internal/netelement"
)

// Environment небо и погода мира. Сервер пересчитывает их по времени мира,
// клиенты получают полное состояние в WorldStart и дельты в EnvironmentUpdate.
type Environment struct {
	sky     *netelement.TopGroup
	weather *netelement.TopGroup

	dayLength *netelement.NetFloat
	dayTime   *netelement.NetFloat
	flying    *netelement.NetBool

	weatherName *netelement.NetString
	intensity   *netelement.NetFloat
}

// NewEnvironment создаёт окружение со значениями по умолчанию
func NewEnvironment() *Environment {
	e := &Environment{
		sky:         netelement.NewTopGroup(),
		weather:     netelement.NewTopGroup(),
		dayLength:   netelement.NewNetFloat(0),
		dayTime:     netelement.NewNetFloat(0.5),
		flying:      netelement.NewNetBool(false),
		weatherName: netelement.NewNetString("clear"),
		intensity:   netelement.NewNetFloat(0),
	}
	// Время суток переходит через 1 в 0, интерполяция дала бы обратный ход
	e.dayTime.SetInterpolator(nil)
	e.sky.AddNetElement(e.dayLength)
	e.sky.AddNetElement(e.dayTime)
	e.sky.AddNetElement(e.flying)
	e.weather.AddNetElement(e.weatherName)
	e.weather.AddNetElement(e.intensity)
	return e
}

// Update пересчитывает небо и погоду на момент worldTime
func (e *Environment) Update(t *WorldTemplate, worldTime float64) {
	e.dayLength.Set(t.sky.DayLength)
	// Время суток реплицируется с шагом в тысячную долю, чтобы не слать дельту каждый тик
	e.dayTime.Set(math.Floor(t.DayTime(worldTime)*1000) / 1000)

	w := t.WeatherAt(worldTime)
	e.weatherName.Set(w.Name)
	if w.Name == "clear" {
		e.intensity.Set(0)
	} else {
		e.intensity.Set(0.5 + 0.5*math.Abs(math.Sin(worldTime/60)))
	}
}

// SetFlying корабль в полёте (небо без суточного цикла)
func (e *Environment) SetFlying(flying bool) { e.flying.Set(flying) }

// DayTime доля суток
func (e *Environment) DayTime() float64 { return e.dayTime.Get() }

// DayLength длина суток в секундах
func (e *Environment) DayLength() float64 { return e.dayLength.Get() }

// Weather текущая погода и её сила
func (e *Environment) Weather() (string, float64) {
	return e.weatherName.Get(), e.intensity.Get()
}

// StoreSky полное состояние неба для WorldStart
func (e *Environment) StoreSky(rules netelement.CompatibilityRules) ([]byte, uint64) {
	return e.sky.WriteNetState(0, rules)
}

// StoreWeather полное состояние погоды для WorldStart
func (e *Environment) StoreWeather(rules netelement.CompatibilityRules) ([]byte, uint64) {
	return e.weather.WriteNetState(0, rules)
}

// WriteDeltas дельты неба и погоды от версий получателя
func (e *Environment) WriteDeltas(skyFrom, weatherFrom uint64, rules netelement.CompatibilityRules) (sky []byte, skyVer uint64, weather []byte, weatherVer uint64) {
	sky, skyVer = e.sky.WriteNetState(skyFrom, rules)
	weather, weatherVer = e.weather.WriteNetState(weatherFrom, rules)
	return
}

// IncrementVersions завершает шаг рассылки
func (e *Environment) IncrementVersions() {
	e.sky.IncrementVersion()
	e.weather.IncrementVersion()
}

// LoadSky применяет полное состояние неба (клиент)
func (e *Environment) LoadSky(data []byte, rules netelement.CompatibilityRules) error {
	if len(data) == 0 {
		return nil
	}
	return e.sky.LoadNetState(data, 0, rules)
}

// LoadWeather применяет полное состояние погоды (клиент)
func (e *Environment) LoadWeather(data []byte, rules netelement.CompatibilityRules) error {
	if len(data) == 0 {
		return nil
	}
	return e.weather.LoadNetState(data, 0, rules)
}

// ReadDeltas применяет EnvironmentUpdate (клиент)
func (e *Environment) ReadDeltas(sky, weather []byte, rules netelement.CompatibilityRules) error {
	if len(sky) > 0 {
		if err := e.sky.ReadNetState(sky, e.sky.LastReadVersion(), 0, rules); err != nil {
			return err
		}
	}
	if len(weather) > 0 {
		return e.weather.ReadNetState(weather, e.weather.LastReadVersion(), 0, rules)
	}
	return nil
}
