package miio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPropertyCommandShapeBool(t *testing.T) {
	cmd := NewSetPropertyCommand(7, PowerSIID, PowerPIID, true)
	j, err := cmd.Marshal()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(j, &decoded))
	assert.Equal(t, "set_properties", decoded["method"])
	assert.Equal(t, float64(7), decoded["id"])

	params := decoded["params"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(2), params["siid"])
	assert.Equal(t, float64(1), params["piid"])
	assert.Equal(t, true, params["value"])
}

func TestSetPropertyCommandShapeInt(t *testing.T) {
	cmd := NewSetPropertyCommand(3, 6, 8, 17)
	j, err := cmd.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"method":"set_properties","params":[{"siid":6,"piid":8,"value":17}]}`, string(j))
}

func TestInfoQueryShape(t *testing.T) {
	j, err := NewInfoQuery().Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"method":"miIO.info","params":[]}`, string(j))
}

func TestParseInfoResponseQuotedDID(t *testing.T) {
	resp, err := ParseInfoResponse([]byte(`{"model":"zhimi.fan.za5","fw_ver":"1.2.3","hw_ver":"1.0","did":"123456789"}`))
	require.NoError(t, err)
	assert.Equal(t, "zhimi.fan.za5", resp.Model)
	assert.Equal(t, "1.2.3", resp.FwVer)
	assert.Equal(t, uint32(123456789), resp.DIDUint32())
}

func TestParseInfoResponseNumericDID(t *testing.T) {
	resp, err := ParseInfoResponse([]byte(`{"model":"dmaker.fan.1c","fw_ver":"2.0","hw_ver":"1.0","did":987654321}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(987654321), resp.DIDUint32())
}

func TestParseInfoResponseMissingModel(t *testing.T) {
	_, err := ParseInfoResponse([]byte(`{"fw_ver":"1.2.3"}`))
	require.Error(t, err)
}

func TestParseInfoResponseRoundTrip(t *testing.T) {
	original := InfoResponse{Model: "zhimi.fan.za5", FwVer: "1.2.3", HwVer: "1.0", DID: "42"}
	j, err := json.Marshal(original)
	require.NoError(t, err)

	parsed, err := ParseInfoResponse(j)
	require.NoError(t, err)
	assert.Equal(t, original.Model, parsed.Model)
	assert.Equal(t, original.FwVer, parsed.FwVer)
	assert.Equal(t, original.HwVer, parsed.HwVer)
	assert.Equal(t, original.DID, parsed.DID)
}
