package frame

import (
	"encoding/json"
	"maps"
)

// TTSBusiness is the business object of a synthesis request.
type TTSBusiness struct {
	AUE    string `json:"aue"`
	AUF    string `json:"auf"`
	VCN    string `json:"vcn"`
	Speed  int    `json:"speed"`
	Volume int    `json:"volume"`
	Pitch  int    `json:"pitch"`
	TTE    string `json:"tte"`

	// Extra holds additional service parameters. Keys override the typed
	// fields above.
	Extra map[string]any `json:"-"`
}

// MarshalJSON merges Extra into the encoded object.
func (b TTSBusiness) MarshalJSON() ([]byte, error) {
	type plain TTSBusiness
	return withExtra(plain(b), b.Extra)
}

// IATBusiness is the business object of a recognition request.
type IATBusiness struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent"`
	VADEOS   int    `json:"vad_eos,omitempty"`

	// Extra holds additional service parameters such as "ptt" or "nunum".
	Extra map[string]any `json:"-"`
}

// MarshalJSON merges Extra into the encoded object.
func (b IATBusiness) MarshalJSON() ([]byte, error) {
	type plain IATBusiness
	return withExtra(plain(b), b.Extra)
}

func withExtra(v any, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return base, err
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	maps.Copy(m, extra)
	return json.Marshal(m)
}
