package netelement

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/annel0/tileverse/internal/vec"
	"google.golang.org/protobuf/encoding/protowire"
)

// DataStream буфер для записи и чтения примитивов протокола.
// При чтении первая ошибка запоминается, последующие чтения возвращают нули;
// проверять её нужно через Err() после серии чтений.
type DataStream struct {
	buf []byte
	pos int
	err error
}

// NewWriter создаёт пустой поток для записи
func NewWriter() *DataStream {
	return &DataStream{buf: make([]byte, 0, 64)}
}

// NewReader создаёт поток для чтения данных
func NewReader(data []byte) *DataStream {
	return &DataStream{buf: data}
}

// Bytes возвращает записанные данные
func (ds *DataStream) Bytes() []byte { return ds.buf }

// Len размер буфера
func (ds *DataStream) Len() int { return len(ds.buf) }

// Remaining количество непрочитанных байт
func (ds *DataStream) Remaining() int { return len(ds.buf) - ds.pos }

// AtEnd все данные прочитаны
func (ds *DataStream) AtEnd() bool { return ds.pos >= len(ds.buf) }

// Err первая ошибка чтения
func (ds *DataStream) Err() error { return ds.err }

// Fail запоминает ошибку, если её ещё нет
func (ds *DataStream) Fail(err error) {
	if ds.err == nil {
		ds.err = err
	}
}

// Reset очищает поток для повторного использования
func (ds *DataStream) Reset() {
	ds.buf = ds.buf[:0]
	ds.pos = 0
	ds.err = nil
}

func (ds *DataStream) take(n int) []byte {
	if ds.err != nil {
		return nil
	}
	if n < 0 || ds.pos+n > len(ds.buf) {
		ds.err = fmt.Errorf("%w: нужно %d байт, осталось %d", ErrShortRead, n, ds.Remaining())
		return nil
	}
	b := ds.buf[ds.pos : ds.pos+n]
	ds.pos += n
	return b
}

// WriteRaw дописывает байты без префикса длины
func (ds *DataStream) WriteRaw(b []byte) { ds.buf = append(ds.buf, b...) }

// ReadRaw читает n байт без префикса длины
func (ds *DataStream) ReadRaw(n int) []byte {
	b := ds.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ReadRest возвращает все оставшиеся байты
func (ds *DataStream) ReadRest() []byte {
	return ds.ReadRaw(ds.Remaining())
}

// WriteUint8 записывает байт
func (ds *DataStream) WriteUint8(v uint8) { ds.buf = append(ds.buf, v) }

// ReadUint8 читает байт
func (ds *DataStream) ReadUint8() uint8 {
	b := ds.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// WriteBool записывает флаг
func (ds *DataStream) WriteBool(v bool) {
	if v {
		ds.WriteUint8(1)
	} else {
		ds.WriteUint8(0)
	}
}

// ReadBool читает флаг
func (ds *DataStream) ReadBool() bool { return ds.ReadUint8() != 0 }

// WriteUint16 big-endian
func (ds *DataStream) WriteUint16(v uint16) { ds.buf = binary.BigEndian.AppendUint16(ds.buf, v) }

// ReadUint16 big-endian
func (ds *DataStream) ReadUint16() uint16 {
	b := ds.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// WriteUint32 big-endian
func (ds *DataStream) WriteUint32(v uint32) { ds.buf = binary.BigEndian.AppendUint32(ds.buf, v) }

// ReadUint32 big-endian
func (ds *DataStream) ReadUint32() uint32 {
	b := ds.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// WriteInt32 big-endian
func (ds *DataStream) WriteInt32(v int32) { ds.WriteUint32(uint32(v)) }

// ReadInt32 big-endian
func (ds *DataStream) ReadInt32() int32 { return int32(ds.ReadUint32()) }

// WriteUint64 big-endian
func (ds *DataStream) WriteUint64(v uint64) { ds.buf = binary.BigEndian.AppendUint64(ds.buf, v) }

// ReadUint64 big-endian
func (ds *DataStream) ReadUint64() uint64 {
	b := ds.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// WriteFloat32 записывает float32
func (ds *DataStream) WriteFloat32(v float32) { ds.WriteUint32(math.Float32bits(v)) }

// ReadFloat32 читает float32
func (ds *DataStream) ReadFloat32() float32 { return math.Float32frombits(ds.ReadUint32()) }

// WriteFloat64 записывает float64
func (ds *DataStream) WriteFloat64(v float64) { ds.WriteUint64(math.Float64bits(v)) }

// ReadFloat64 читает float64
func (ds *DataStream) ReadFloat64() float64 { return math.Float64frombits(ds.ReadUint64()) }

// WriteVarUint записывает беззнаковый varint
func (ds *DataStream) WriteVarUint(v uint64) { ds.buf = protowire.AppendVarint(ds.buf, v) }

// ReadVarUint читает беззнаковый varint
func (ds *DataStream) ReadVarUint() uint64 {
	if ds.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(ds.buf[ds.pos:])
	if n < 0 {
		ds.err = fmt.Errorf("%w: varint: %v", ErrShortRead, protowire.ParseError(n))
		return 0
	}
	ds.pos += n
	return v
}

// WriteVarInt записывает знаковый varint (zig-zag)
func (ds *DataStream) WriteVarInt(v int64) { ds.WriteVarUint(protowire.EncodeZigZag(v)) }

// ReadVarInt читает знаковый varint (zig-zag)
func (ds *DataStream) ReadVarInt() int64 { return protowire.DecodeZigZag(ds.ReadVarUint()) }

// ReadSize читает varint-размер и проверяет, что столько байт действительно осталось
func (ds *DataStream) ReadSize() int {
	n := ds.ReadVarUint()
	if ds.err != nil {
		return 0
	}
	if n > uint64(ds.Remaining()) {
		ds.Fail(fmt.Errorf("%w: размер %d больше остатка %d", ErrShortRead, n, ds.Remaining()))
		return 0
	}
	return int(n)
}

// WriteBytes записывает байты с varint-префиксом длины
func (ds *DataStream) WriteBytes(b []byte) {
	ds.WriteVarUint(uint64(len(b)))
	ds.buf = append(ds.buf, b...)
}

// ReadBytes читает байты с varint-префиксом длины
func (ds *DataStream) ReadBytes() []byte {
	n := ds.ReadSize()
	if ds.err != nil {
		return nil
	}
	return ds.ReadRaw(n)
}

// WriteString записывает строку с varint-префиксом длины
func (ds *DataStream) WriteString(s string) {
	ds.WriteVarUint(uint64(len(s)))
	ds.buf = append(ds.buf, s...)
}

// ReadString читает строку с varint-префиксом длины
func (ds *DataStream) ReadString() string {
	n := ds.ReadSize()
	b := ds.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// WriteVec2 записывает тайловую позицию
func (ds *DataStream) WriteVec2(v vec.Vec2) {
	ds.WriteVarInt(int64(v.X))
	ds.WriteVarInt(int64(v.Y))
}

// ReadVec2 читает тайловую позицию
func (ds *DataStream) ReadVec2() vec.Vec2 {
	x := ds.ReadVarInt()
	y := ds.ReadVarInt()
	return vec.Vec2{X: int32(x), Y: int32(y)}
}

// WriteVec2F записывает вектор
func (ds *DataStream) WriteVec2F(v vec.Vec2F) {
	ds.WriteFloat64(v.X)
	ds.WriteFloat64(v.Y)
}

// ReadVec2F читает вектор
func (ds *DataStream) ReadVec2F() vec.Vec2F {
	x := ds.ReadFloat64()
	y := ds.ReadFloat64()
	return vec.Vec2F{X: x, Y: y}
}

// WriteMaybe записывает признак наличия значения
func (ds *DataStream) WriteMaybe(present bool, write func()) {
	ds.WriteBool(present)
	if present {
		write()
	}
}

// ReadMaybe читает признак наличия и вызывает read если значение есть
func (ds *DataStream) ReadMaybe(read func()) bool {
	if ds.ReadBool() {
		read()
		return ds.err == nil
	}
	return false
}
