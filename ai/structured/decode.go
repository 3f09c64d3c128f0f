package structured

import (
	"encoding/json"

	"github.com/teranos/ontogen/errors"
)

// DecodeJSON unmarshals a reply into T. Types with their own UnmarshalJSON
// enforce their accepted shapes; any failure is marked errors.ErrDecode.
func DecodeJSON[T any](raw []byte) (T, error) {
	var value T
	if len(raw) == 0 {
		return value, errors.Mark(errors.New("empty reply content"), errors.ErrDecode)
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		if errors.Is(err, errors.ErrDecode) {
			return value, err
		}
		return value, errors.Mark(errors.Wrap(err, "invalid JSON reply"), errors.ErrDecode)
	}
	return value, nil
}
