package entity

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/tileverse/internal/vec"
)

// InteractRequest запрос взаимодействия от источника к цели
type InteractRequest struct {
	SourceID         EntityID  `json:"sourceId"`
	SourcePosition   vec.Vec2F `json:"sourcePosition"`
	TargetID         EntityID  `json:"targetId"`
	InteractPosition vec.Vec2F `json:"interactPosition"`
}

// InteractActionType вид результата взаимодействия
type InteractActionType uint8

const (
	InteractNone InteractActionType = iota
	InteractOpenContainer
	InteractSitDown
	InteractOpenCraftingInterface
	InteractOpenSongbookInterface
	InteractOpenNpcCraftingInterface
	InteractOpenMerchantInterface
	InteractOpenAiInterface
	InteractOpenTeleportDialog
	InteractShowPopup
	InteractScriptPane
	InteractMessage
	InteractWarp
)

var interactActionNames = [...]string{
	"None", "OpenContainer", "SitDown", "OpenCraftingInterface", "OpenSongbookInterface",
	"OpenNpcCraftingInterface", "OpenMerchantInterface", "OpenAiInterface",
	"OpenTeleportDialog", "ShowPopup", "ScriptPane", "Message", "Warp",
}

func (t InteractActionType) String() string {
	if int(t) < len(interactActionNames) {
		return interactActionNames[t]
	}
	return fmt.Sprintf("InteractActionType(%d)", t)
}

// ParseInteractActionType разбирает имя действия
func ParseInteractActionType(s string) (InteractActionType, error) {
	for i, n := range interactActionNames {
		if n == s {
			return InteractActionType(i), nil
		}
	}
	return InteractNone, fmt.Errorf("неизвестное действие взаимодействия %q", s)
}

func (t InteractActionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *InteractActionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseInteractActionType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// InteractAction результат взаимодействия: вид, сущность-владелец и данные вида
type InteractAction struct {
	Type     InteractActionType `json:"type"`
	EntityID EntityID           `json:"entityId"`
	Data     json.RawMessage    `json:"data,omitempty"`
}

// NoInteraction пустой результат
func NoInteraction() InteractAction {
	return InteractAction{Type: InteractNone}
}

// NewInteractAction действие с произвольными данными
func NewInteractAction(t InteractActionType, id EntityID, data interface{}) (InteractAction, error) {
	a := InteractAction{Type: t, EntityID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return a, err
		}
		a.Data = raw
	}
	return a, nil
}

// OpenContainer открыть контейнер сущности id
func OpenContainer(id EntityID) InteractAction {
	return InteractAction{Type: InteractOpenContainer, EntityID: id}
}

// SitDown сесть на точку привязки anchor
func SitDown(id EntityID, anchor int) InteractAction {
	a, _ := NewInteractAction(InteractSitDown, id, anchor)
	return a
}

// WarpData цель перемещения
type WarpData struct {
	Target    string     `json:"target"`
	Position  *vec.Vec2F `json:"position,omitempty"`
	Animation string     `json:"animation,omitempty"`
}

// Warp переместить игрока
func Warp(id EntityID, target WarpData) InteractAction {
	a, _ := NewInteractAction(InteractWarp, id, target)
	return a
}

// MessageData сообщение, отправляемое источнику взаимодействия
type MessageData struct {
	Message string        `json:"messageType"`
	Args    []interface{} `json:"messageArgs"`
}

// IsNone результат пуст
func (a InteractAction) IsNone() bool { return a.Type == InteractNone }

// Decode распаковывает данные действия
func (a InteractAction) Decode(v interface{}) error {
	if len(a.Data) == 0 {
		return nil
	}
	return json.Unmarshal(a.Data, v)
}

// Equal сравнение по виду, сущности и данным
func (a InteractAction) Equal(b InteractAction) bool {
	return a.Type == b.Type && a.EntityID == b.EntityID && string(a.Data) == string(b.Data)
}
