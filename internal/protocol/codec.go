package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/tileverse/internal/netelement"
)

// Codec собирает пакеты в кадры и разбирает их обратно.
//
// Кадр: тип (u8), знаковый varint размера тела, тело. Отрицательный размер
// означает, что тело сжато zstd. Пакет сжимается, только если он это
// предпочитает и сжатое тело короче исходного.
type Codec struct {
	compress     bool
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewCodec создаёт кодек; compress=false отключает сжатие исходящих пакетов,
// входящие сжатые кадры читаются всегда
func NewCodec(compress bool) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("создание компрессора: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPacketSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("создание декомпрессора: %w", err)
	}
	return &Codec{compress: compress, compressor: enc, decompressor: dec}, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	c.compressor.Close()
	c.decompressor.Close()
}

// EncodePayload пишет тело пакета без заголовка кадра
func EncodePayload(p Packet, rules netelement.CompatibilityRules) ([]byte, error) {
	ds := netelement.NewWriter()
	if err := p.Write(ds, rules); err != nil {
		return nil, &ProtocolError{Op: "запись", Type: p.Type(), Err: err}
	}
	return ds.Bytes(), nil
}

// DecodePayload читает тело пакета типа t; тело должно быть прочитано целиком
func DecodePayload(t PacketType, payload []byte, rules netelement.CompatibilityRules) (Packet, error) {
	p, err := New(t)
	if err != nil {
		return nil, &ProtocolError{Op: "чтение", Type: t, Err: err}
	}
	ds := netelement.NewReader(payload)
	if err := p.Read(ds, rules); err != nil {
		return nil, &ProtocolError{Op: "чтение", Type: t, Err: err}
	}
	if err := ds.Err(); err != nil {
		return nil, &ProtocolError{Op: "чтение", Type: t, Err: err}
	}
	if !ds.AtEnd() {
		return nil, &ProtocolError{Op: "чтение", Type: t, Err: fmt.Errorf("%w: %d", ErrTrailingBytes, ds.Remaining())}
	}
	return p, nil
}

// AppendPacket дописывает кадр с пакетом к dst
func (c *Codec) AppendPacket(dst []byte, p Packet, rules netelement.CompatibilityRules) ([]byte, error) {
	payload, err := EncodePayload(p, rules)
	if err != nil {
		return dst, err
	}
	size := int64(len(payload))
	if c.compress && p.Type().Compression() == CompressionZstd && len(payload) > 0 {
		if packed := c.compressor.EncodeAll(payload, nil); len(packed) < len(payload) {
			payload = packed
			size = -int64(len(packed))
		}
	}
	ds := netelement.NewWriter()
	ds.WriteUint8(uint8(p.Type()))
	ds.WriteVarInt(size)
	ds.WriteRaw(payload)
	return append(dst, ds.Bytes()...), nil
}

// Encode собирает несколько пакетов в один буфер
func (c *Codec) Encode(packets []Packet, rules netelement.CompatibilityRules) ([]byte, error) {
	var out []byte
	for _, p := range packets {
		var err error
		if out, err = c.AppendPacket(out, p, rules); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Decode разбирает все кадры буфера. Любая ошибка фатальна для соединения.
func (c *Codec) Decode(data []byte, rules netelement.CompatibilityRules) ([]Packet, error) {
	ds := netelement.NewReader(data)
	var packets []Packet
	for !ds.AtEnd() {
		t := PacketType(ds.ReadUint8())
		size := ds.ReadVarInt()
		if err := ds.Err(); err != nil {
			return packets, &ProtocolError{Op: "заголовок", Type: t, Err: err}
		}
		if !t.Valid() {
			return packets, &ProtocolError{Op: "заголовок", Type: t, Err: ErrUnknownPacket}
		}
		compressed := size < 0
		if compressed {
			size = -size
		}
		if size > MaxPacketSize {
			return packets, &ProtocolError{Op: "заголовок", Type: t, Err: fmt.Errorf("%w: %d", ErrPacketTooLarge, size)}
		}
		if size > int64(ds.Remaining()) {
			return packets, &ProtocolError{Op: "заголовок", Type: t, Err: fmt.Errorf("%w: тело %d, осталось %d", netelement.ErrShortRead, size, ds.Remaining())}
		}
		payload := ds.ReadRaw(int(size))
		if compressed {
			var err error
			if payload, err = c.decompressor.DecodeAll(payload, nil); err != nil {
				return packets, &ProtocolError{Op: "распаковка", Type: t, Err: err}
			}
		}
		p, err := DecodePayload(t, payload, rules)
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}
