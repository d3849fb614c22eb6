package bybit

import (
	"bytes"
	"strconv"
)

// number decodes Bybit fields that arrive as either JSON numbers or
// numeric strings, depending on the endpoint.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*n = number(f)
	return nil
}
