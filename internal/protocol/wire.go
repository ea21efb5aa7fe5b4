package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/annel0/tileverse/internal/netelement"
	"github.com/annel0/tileverse/internal/vec"
)

// readBlob читает байты; пустой блок превращается в nil
func readBlob(ds *netelement.DataStream) []byte {
	b := ds.ReadBytes()
	if len(b) == 0 {
		return nil
	}
	return b
}

func writeRawJSON(ds *netelement.DataStream, raw json.RawMessage) {
	ds.WriteBytes(raw)
}

func readRawJSON(ds *netelement.DataStream) json.RawMessage {
	b := readBlob(ds)
	if b == nil {
		return nil
	}
	if !json.Valid(b) {
		ds.Fail(fmt.Errorf("некорректный JSON длиной %d", len(b)))
		return nil
	}
	return json.RawMessage(b)
}

// writeJSONValue пишет произвольное значение как JSON; nil пишется пустым блоком
func writeJSONValue(ds *netelement.DataStream, v interface{}) error {
	if v == nil {
		ds.WriteBytes(nil)
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ds.WriteBytes(data)
	return nil
}

func readJSONValue(ds *netelement.DataStream, v interface{}) {
	b := readBlob(ds)
	if b == nil {
		return
	}
	if err := json.Unmarshal(b, v); err != nil {
		ds.Fail(fmt.Errorf("разбор JSON: %w", err))
	}
}

func writeUUID(ds *netelement.DataStream, id uuid.UUID) {
	ds.WriteRaw(id[:])
}

func readUUID(ds *netelement.DataStream) uuid.UUID {
	var id uuid.UUID
	copy(id[:], ds.ReadRaw(len(id)))
	return id
}

func writePositions(ds *netelement.DataStream, list []vec.Vec2) {
	ds.WriteVarUint(uint64(len(list)))
	for _, p := range list {
		ds.WriteVec2(p)
	}
}

func readPositions(ds *netelement.DataStream) []vec.Vec2 {
	n := readCount(ds, 2)
	if n == 0 {
		return nil
	}
	list := make([]vec.Vec2, n)
	for i := range list {
		list[i] = ds.ReadVec2()
	}
	return list
}

// readCount читает длину списка; каждый элемент занимает не меньше minSize байт,
// так что заведомо ложная длина отсекается до выделения памяти
func readCount(ds *netelement.DataStream, minSize int) int {
	n := ds.ReadVarUint()
	if ds.Err() != nil {
		return 0
	}
	if minSize < 1 {
		minSize = 1
	}
	if n > uint64(ds.Remaining()/minSize) {
		ds.Fail(fmt.Errorf("%w: список из %d элементов", netelement.ErrShortRead, n))
		return 0
	}
	return int(n)
}

func writeStrings(ds *netelement.DataStream, list []string) {
	ds.WriteVarUint(uint64(len(list)))
	for _, s := range list {
		ds.WriteString(s)
	}
}

func readStrings(ds *netelement.DataStream) []string {
	n := readCount(ds, 1)
	if n == 0 {
		return nil
	}
	list := make([]string, n)
	for i := range list {
		list[i] = ds.ReadString()
	}
	return list
}
