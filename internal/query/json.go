package query

import (
	"encoding/json"
	"io"
)

func encodeJSON(w io.Writer, v any) {
	json.NewEncoder(w).Encode(v)
}
