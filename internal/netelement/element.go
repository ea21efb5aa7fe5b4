// Package netelement реализует примитивы репликации с версионированными дельтами.
package netelement

import (
	"errors"
	"fmt"
)

var (
	// ErrShortRead данных меньше, чем требует формат
	ErrShortRead = errors.New("netelement: короткое чтение")
	// ErrUnknownElement индекс дочернего элемента вне известного списка
	ErrUnknownElement = errors.New("netelement: неизвестный элемент")
	// ErrVersionRegression пришла версия меньше уже применённой
	ErrVersionRegression = errors.New("netelement: откат версии")
	// ErrTrailingData после разбора остались лишние байты
	ErrTrailingData = errors.New("netelement: лишние данные")
)

// NetElement узел дерева репликации
type NetElement interface {
	// InitNetVersion привязывает элемент к счётчику версий владельца
	InitNetVersion(v *Version)

	// NetStore записывает полное состояние
	NetStore(ds *DataStream, rules CompatibilityRules)
	// NetLoad читает полное состояние
	NetLoad(ds *DataStream, rules CompatibilityRules) error

	// WriteNetDelta пишет изменения после fromVersion, возвращает false если изменений нет
	WriteNetDelta(ds *DataStream, fromVersion uint64, rules CompatibilityRules) bool
	// ReadNetDelta применяет дельту; interpolationTime > 0 откладывает значение при включённой интерполяции
	ReadNetDelta(ds *DataStream, interpolationTime float64, rules CompatibilityRules) error

	EnableNetInterpolation()
	DisableNetInterpolation()
	TickNetInterpolation(dt float64)
}

// WriteDelta сериализует дельту элемента в отдельный буфер.
// Пустой результат означает отсутствие изменений.
func WriteDelta(e NetElement, fromVersion uint64, rules CompatibilityRules) []byte {
	ds := NewWriter()
	if !e.WriteNetDelta(ds, fromVersion, rules) {
		return nil
	}
	return ds.Bytes()
}

// ReadDelta применяет дельту целиком; лишние байты считаются ошибкой.
// При любой ошибке разбора элемент остаётся без изменений.
func ReadDelta(e NetElement, data []byte, interpolationTime float64, rules CompatibilityRules) error {
	commit, err := decodeDelta(e, data, rules)
	if err != nil {
		return err
	}
	return commit(interpolationTime)
}

// stagedDelta разобранная дельта; вызов применяет её к элементу
type stagedDelta func(interpolationTime float64) error

func noDelta(float64) error { return nil }

// deltaDecoder разбирает дельту во временные значения, не трогая элемент
type deltaDecoder interface {
	decodeNetDelta(ds *DataStream, rules CompatibilityRules) (stagedDelta, error)
}

// decodeDelta разбирает дельту из отдельного буфера целиком
func decodeDelta(e NetElement, data []byte, rules CompatibilityRules) (stagedDelta, error) {
	if len(data) == 0 {
		return noDelta, nil
	}
	dec, ok := e.(deltaDecoder)
	if !ok {
		// сторонние элементы разбирают и применяют дельту за один проход
		return func(interpolationTime float64) error {
			return readWhole(e, data, interpolationTime, rules)
		}, nil
	}
	ds := NewReader(data)
	commit, err := dec.decodeNetDelta(ds, rules)
	if err != nil {
		return nil, err
	}
	if !ds.AtEnd() {
		return nil, fmt.Errorf("%w: %d байт", ErrTrailingData, ds.Remaining())
	}
	return commit, nil
}

func readWhole(e NetElement, data []byte, interpolationTime float64, rules CompatibilityRules) error {
	ds := NewReader(data)
	if err := e.ReadNetDelta(ds, interpolationTime, rules); err != nil {
		return err
	}
	if !ds.AtEnd() {
		return fmt.Errorf("%w: %d байт", ErrTrailingData, ds.Remaining())
	}
	return nil
}

// Store сериализует полное состояние
func Store(e NetElement, rules CompatibilityRules) []byte {
	ds := NewWriter()
	e.NetStore(ds, rules)
	return ds.Bytes()
}

// Load читает полное состояние
func Load(e NetElement, data []byte, rules CompatibilityRules) error {
	ds := NewReader(data)
	if err := e.NetLoad(ds, rules); err != nil {
		return err
	}
	return ds.Err()
}
