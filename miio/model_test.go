package miio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelTypeOfCatalog(t *testing.T) {
	cases := []struct {
		model string
		want  ModelType
	}{
		{"zhimi.fan.za5", ModelZhimiFanZA5},
		{"zhimi.fan.za4", ModelZhimiFanZA4},
		{"zhimi.fan.za3", ModelZhimiFanZA4},
		{"zhimi.fan.v2", ModelZhimiFanV3},
		{"zhimi.fan.v3", ModelZhimiFanV3},
		{"dmaker.fan.1c", ModelDmakerFan1C},
		{"dmaker.fan.p5", ModelDmakerFanP5},
		{"dmaker.fan.p8", ModelDmakerFanP9},
		{"dmaker.fan.p9", ModelDmakerFanP9},
		{"dmaker.fan.p10", ModelDmakerFanP10},
		{"dmaker.fan.p18", ModelDmakerFanP10},
		{"dmaker.fan.p11", ModelDmakerFanP11},
		{"dmaker.fan.p15", ModelDmakerFanP11},
		{"dmaker.fan.p30", ModelDmakerFanP11},
		{"dmaker.fan.p33", ModelDmakerFanP11},
		{"dmaker.fan.p220", ModelDmakerFanP11},
		{"xiaomi.fan.p76", ModelXiaomiFanP76},
		{"zhimi.fan.unknownsuffix", ModelUnknown},
		{"", ModelUnknown},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, ModelTypeOf(c.model), "model=%s", c.model)
	}
}

// modelStringFor is the inverse used only by the round-trip test below; it
// is deliberately a test fixture, not part of the catalog's public API,
// since a ModelType does not determine a unique model string in general.
var modelStringFor = map[ModelType]string{
	ModelZhimiFanZA5:  "zhimi.fan.za5",
	ModelZhimiFanZA4:  "zhimi.fan.za4",
	ModelZhimiFanV3:   "zhimi.fan.v3",
	ModelDmakerFan1C:  "dmaker.fan.1c",
	ModelDmakerFanP5:  "dmaker.fan.p5",
	ModelDmakerFanP9:  "dmaker.fan.p9",
	ModelDmakerFanP10: "dmaker.fan.p10",
	ModelDmakerFanP11: "dmaker.fan.p11",
	ModelXiaomiFanP76: "xiaomi.fan.p76",
}

func TestModelTypeOfIsIdentityOnCatalogRoundTrip(t *testing.T) {
	for modelType, model := range modelStringFor {
		assert.Equal(t, modelType, ModelTypeOf(model))
	}
}

func TestIsSupportedModel(t *testing.T) {
	assert.True(t, IsSupportedModel("zhimi.fan.za5"))
	assert.True(t, IsSupportedModel("dmaker.fan.1c"))
	assert.True(t, IsSupportedModel("xiaomi.fan.p76"))
	assert.False(t, IsSupportedModel("chuangmi.plug.v1"))
	assert.False(t, IsSupportedModel(""))
}

func TestSpeedParamsFor(t *testing.T) {
	p := SpeedParamsFor(ModelDmakerFan1C)
	assert.Equal(t, SpeedParams{SIID: 2, PIID: 2, UseFanLevel: true}, p)

	p = SpeedParamsFor(ModelZhimiFanZA5)
	assert.Equal(t, SpeedParams{SIID: 6, PIID: 8, UseFanLevel: false}, p)

	p = SpeedParamsFor(ModelUnknown)
	assert.Equal(t, SpeedParams{SIID: 6, PIID: 8, UseFanLevel: false}, p)
}

func TestSpeedLevelMonotonic(t *testing.T) {
	assert.Equal(t, uint8(1), SpeedLevel(1))
	assert.Equal(t, uint8(1), SpeedLevel(33))
	assert.Equal(t, uint8(2), SpeedLevel(34))
	assert.Equal(t, uint8(2), SpeedLevel(66))
	assert.Equal(t, uint8(3), SpeedLevel(67))
	assert.Equal(t, uint8(3), SpeedLevel(100))

	var prev uint8
	for p := uint8(1); p <= 100; p++ {
		lvl := SpeedLevel(p)
		assert.GreaterOrEqual(t, lvl, prev)
		assert.Contains(t, []uint8{1, 2, 3}, lvl)
		prev = lvl
	}
}

func TestClampSpeedPercent(t *testing.T) {
	assert.Equal(t, uint8(1), ClampSpeedPercent(0))
	assert.Equal(t, uint8(1), ClampSpeedPercent(-5))
	assert.Equal(t, uint8(45), ClampSpeedPercent(45))
	assert.Equal(t, uint8(100), ClampSpeedPercent(150))
}
