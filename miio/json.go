package miio

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SetPropertyParam is a single {siid,piid,value} entry of a set_properties
// command. Value is either a decimal integer or a bool.
type SetPropertyParam struct {
	SIID  int         `json:"siid"`
	PIID  int         `json:"piid"`
	Value interface{} `json:"value"`
}

// SetPropertiesCommand is the JSON shape sent for set_properties calls.
type SetPropertiesCommand struct {
	ID     uint32             `json:"id"`
	Method string             `json:"method"`
	Params []SetPropertyParam `json:"params"`
}

// NewSetPropertyCommand builds a one-property set_properties command with
// the given monotonic message id.
func NewSetPropertyCommand(id uint32, siid, piid int, value interface{}) SetPropertiesCommand {
	return SetPropertiesCommand{
		ID:     id,
		Method: "set_properties",
		Params: []SetPropertyParam{{SIID: siid, PIID: piid, Value: value}},
	}
}

// Marshal renders the command to its wire JSON text.
func (c SetPropertiesCommand) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// InfoQuery is the JSON shape of a miIO.info request: it always has id 1
// and no params.
type InfoQuery struct {
	ID     int           `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// NewInfoQuery builds the fixed miIO.info request.
func NewInfoQuery() InfoQuery {
	return InfoQuery{ID: 1, Method: "miIO.info", Params: []interface{}{}}
}

func (q InfoQuery) Marshal() ([]byte, error) {
	return json.Marshal(q)
}

// FlexibleDID decodes a miIO.info "did" field that may be either a quoted
// string or a bare JSON integer, normalizing both to a string.
type FlexibleDID string

func (d *FlexibleDID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = FlexibleDID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*d = FlexibleDID(n.String())
		return nil
	}
	return fmt.Errorf("miio: did field is neither string nor number: %s", data)
}

// InfoResponse is the decoded result of a miIO.info query.
type InfoResponse struct {
	Model string      `json:"model"`
	FwVer string      `json:"fw_ver"`
	HwVer string      `json:"hw_ver"`
	DID   FlexibleDID `json:"did"`
}

// ParseInfoResponse decodes a miIO.info reply's JSON payload and reports
// ErrInvalidResponse if the required "model" field is absent.
func ParseInfoResponse(plain []byte) (InfoResponse, error) {
	var resp InfoResponse
	if err := json.Unmarshal(plain, &resp); err != nil {
		return InfoResponse{}, &FrameError{Err: ErrInvalidResponse, Detail: "miIO.info payload is not valid JSON: " + err.Error()}
	}
	if resp.Model == "" {
		return InfoResponse{}, &FrameError{Err: ErrInvalidResponse, Detail: "miIO.info response missing model field"}
	}
	return resp, nil
}

// DIDUint32 parses the info response's DID as a uint32, returning 0 if it
// cannot be parsed as a number (the caller treats 0 as "unknown").
func (r InfoResponse) DIDUint32() uint32 {
	n, err := strconv.ParseUint(string(r.DID), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
